package models

type TimelineSource string

const (
	SourceCache    TimelineSource = "cache"
	SourceFallback TimelineSource = "database"
)

type TimelineMeta struct {
	Cursor      *string        `json:"cursor"`
	HasNextPage bool           `json:"hasNextPage"`
	Source      TimelineSource `json:"source"`
}

type TimelinePage struct {
	Data []Post       `json:"data"`
	Meta TimelineMeta `json:"meta"`
}
