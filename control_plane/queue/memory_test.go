package queue

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue()

	first := Message{Type: CreateAttribute, DocumentId: uuid.New()}
	second := Message{Type: DeleteAttribute, DocumentId: uuid.New()}

	require.NoError(t, q.Publish(first))
	require.NoError(t, q.Publish(second))
	assert.Equal(t, 2, q.Len())

	var seen []Message
	err := q.Drain(func(body []byte) error {
		var msg Message
		require.NoError(t, json.Unmarshal(body, &msg))
		seen = append(seen, msg)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, first.DocumentId, seen[0].DocumentId)
	assert.Equal(t, second.DocumentId, seen[1].DocumentId)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueRequeuesRejectedMessage(t *testing.T) {
	q := NewMemoryQueue()

	require.NoError(t, q.Publish(Message{Type: CreateIndex}))

	rejection := errors.New("handler failed")
	err := q.Drain(func(body []byte) error { return rejection })
	assert.ErrorIs(t, err, rejection)

	// The rejected message stays at the front for the next drain.
	assert.Equal(t, 1, q.Len())

	delivered := 0
	require.NoError(t, q.Drain(func(body []byte) error {
		delivered++
		return nil
	}))
	assert.Equal(t, 1, delivered)
}
