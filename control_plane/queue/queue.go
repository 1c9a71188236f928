package queue

import (
	"github.com/google/uuid"
)

type OperationType string

const (
	CreateAttribute OperationType = "CREATE_ATTRIBUTE"
	DeleteAttribute OperationType = "DELETE_ATTRIBUTE"
	CreateIndex     OperationType = "CREATE_INDEX"
	DeleteIndex     OperationType = "DELETE_INDEX"
)

// Message is the control plane message consumed by the schema mutation
// worker. It carries references only; the worker re-fetches the authoritative
// rows, so queue serialization can never corrupt the applied values.
type Message struct {
	Type         OperationType `json:"type"`
	ProjectId    uuid.UUID     `json:"project_id"`
	DatabaseId   uuid.UUID     `json:"database_id"`
	CollectionId uuid.UUID     `json:"collection_id"`
	DocumentId   uuid.UUID     `json:"document_id"`
}

// Handler processes one raw message body. A nil return acknowledges the
// message; an error leaves it for redelivery.
type Handler func(body []byte) error

type Publisher interface {
	Publish(payload interface{}) error
}

// Consumer delivers messages one at a time until Stop is called. Delivery is
// at least once; handlers are responsible for tolerating duplicates.
type Consumer interface {
	Run(handler Handler)
	Stop()
}
