package queue

import (
	"encoding/json"
	"sync"
)

// MemoryQueue is an in-process queue used in tests and single-node setups.
// Messages are delivered synchronously through Drain.
type MemoryQueue struct {
	mu       sync.Mutex
	messages [][]byte
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Publish(payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, body)

	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Drain hands every pending message to the handler in publish order. A
// rejected message is requeued at the front, matching at least once delivery.
func (q *MemoryQueue) Drain(handler Handler) error {
	for {
		q.mu.Lock()
		if len(q.messages) == 0 {
			q.mu.Unlock()
			return nil
		}
		body := q.messages[0]
		q.messages = q.messages[1:]
		q.mu.Unlock()

		if err := handler(body); err != nil {
			q.mu.Lock()
			q.messages = append([][]byte{body}, q.messages...)
			q.mu.Unlock()
			return err
		}
	}
}
