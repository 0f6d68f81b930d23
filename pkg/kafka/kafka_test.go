package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/cart-lab-go/pkg/contracts"
)

type memWriter struct {
	msgs []kafka.Message
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	assert.False(t, NewClient("").Enabled())
	c := NewClient(" a:9092, ,b:9092 ")
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Brokers)
	assert.True(t, c.Enabled())
}

func TestPublisher_RoundTrip(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	evt := contracts.NewEvent(contracts.EventCheckoutConfirmed, "42", map[string]any{"total": 10.5})
	require.NoError(t, Publisher{Writer: w}.Publish(context.Background(), evt))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))

	got, err := Decode(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, evt.EventID, got.EventID)
	assert.Equal(t, contracts.EventCheckoutConfirmed, got.Type)
	assert.Equal(t, 10.5, got.Payload["total"])
}

func TestPublisher_KeysByEventIDWithoutOrder(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	evt := contracts.NewEvent(contracts.EventCheckoutFailed, "", nil)
	require.NoError(t, Publisher{Writer: w}.Publish(context.Background(), evt))
	assert.Equal(t, evt.EventID, string(w.msgs[0].Key))
}

func TestPublisher_Disabled(t *testing.T) {
	t.Parallel()

	err := Publisher{}.Publish(context.Background(), contracts.NewEvent("x", "", nil))
	require.ErrorIs(t, err, ErrDisabled)
}
