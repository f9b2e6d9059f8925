package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/cmem/internal/models"
)

func newBroadcaster(buffer int) *Broadcaster {
	return NewBroadcaster(buffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBroadcaster(t *testing.T) {
	t.Run("fan out", func(t *testing.T) {
		b := newBroadcaster(4)
		a, unsubA := b.Subscribe()
		c, unsubC := b.Subscribe()
		defer unsubA()
		defer unsubC()

		b.Publish(models.Event{Type: models.EventQueued, ItemID: 7})

		for _, ch := range []<-chan models.Event{a, c} {
			e := <-ch
			assert.Equal(t, models.EventQueued, e.Type)
			assert.Equal(t, int64(7), e.ItemID)
			assert.NotEmpty(t, e.ID)
			assert.Positive(t, e.At)
		}
	})

	t.Run("slow subscriber drops instead of blocking", func(t *testing.T) {
		b := newBroadcaster(1)
		ch, unsub := b.Subscribe()
		defer unsub()

		for i := 0; i < 5; i++ {
			b.Publish(models.Event{Type: models.EventProcessed, ItemID: int64(i)})
		}
		e := <-ch
		assert.Equal(t, int64(0), e.ItemID)
		assert.Empty(t, ch)
	})

	t.Run("unsubscribe closes and is idempotent", func(t *testing.T) {
		b := newBroadcaster(1)
		ch, unsub := b.Subscribe()
		require.Equal(t, 1, b.Subscribers())

		unsub()
		unsub()
		_, open := <-ch
		assert.False(t, open)
		assert.Zero(t, b.Subscribers())

		b.Publish(models.Event{Type: models.EventQueued})
	})
}
