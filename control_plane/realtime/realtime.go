package realtime

// Target carries the channel and role routing metadata derived from a
// message's payload.
type Target struct {
	Channels []string
	Roles    []string
}

// Options scope a message to the catalog rows it concerns so subscribers can
// filter without parsing the payload.
type Options struct {
	ProjectId    string `json:"project_id"`
	DatabaseId   string `json:"database_id"`
	CollectionId string `json:"collection_id"`
}

// Message is one fan-out unit handed to the realtime transport. Events are
// ordered most specific first; Payload is the full current catalog row.
type Message struct {
	ProjectId string                 `json:"project_id"`
	Events    []string               `json:"events"`
	Payload   map[string]interface{} `json:"payload"`
	Channels  []string               `json:"channels"`
	Roles     []string               `json:"roles"`
	Options   Options                `json:"options"`
}

// Publisher fans a message out to interested realtime subscribers. Publishing
// is best effort: callers treat failures as lost notifications, never as a
// reason to roll back the mutation the message reports.
type Publisher interface {
	Publish(msg Message) error
}
