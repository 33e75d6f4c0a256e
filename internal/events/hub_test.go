package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeFableSaved, map[string]string{"id": "f1"})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, TypeFableSaved, ev.Type)
		assert.JSONEq(t, `{"id":"f1"}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRingBufferKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TypeJobSubmitted, i)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
}

func TestUnmarshalableDataBecomesEmptyObject(t *testing.T) {
	h := NewHub(0)
	h.Publish("x", func() {})
	h.Publish("y", nil)

	evs := h.SnapshotSince(0)
	require.Len(t, evs, 2)
	assert.JSONEq(t, `{}`, string(evs[0].Data))
	assert.JSONEq(t, `{}`, string(evs[1].Data))
}

func TestCancelClosesChannelOnce(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	h.Publish(TypeFableDeleted, nil)
}
