package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsCopies(t *testing.T) {
	t.Parallel()

	pub := New()
	payload := []byte(`{"type":"entity.created","entity_id":"e1"}`)
	id, err := pub.Publish(context.Background(), "radar-events", payload)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	payload[0] = 'X'

	id, err = pub.Publish(context.Background(), "radar-events", []byte(`{"type":"evaluation.created","entity_id":"e1","version":2}`))
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "memory-1", msgs[0].ID)
	require.Equal(t, "radar-events", msgs[0].Topic)
	require.Equal(t, byte('{'), msgs[0].Payload[0])

	msgs[0].Topic = "changed"
	require.Equal(t, "radar-events", pub.Messages()[0].Topic)
}

func TestPublisherEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	_, _ = pub.Publish(context.Background(), "t", []byte(`{"type":"entity.created","entity_id":"e1","score":85}`))
	_, _ = pub.Publish(context.Background(), "t", []byte(`{"type":"evaluation.created","entity_id":"e1","version":1}`))

	all, err := pub.Events("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	evals, err := pub.Events("evaluation.created")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	require.Equal(t, 1, evals[0].Version)

	_, _ = pub.Publish(context.Background(), "t", []byte("not json"))
	_, err = pub.Events("")
	require.ErrorContains(t, err, "decode memory-3")
}
