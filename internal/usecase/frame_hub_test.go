package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
)

func TestFrameHub_BroadcastAndCancel(t *testing.T) {
	h := NewFrameHub(2)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	f := &models.Frame{CycleID: "one"}
	h.Broadcast(f)
	assert.Same(t, f, <-a)
	assert.Same(t, f, <-b)

	cancelA()
	cancelA()
	assert.Equal(t, 1, h.Subscribers())
	_, open := <-a
	assert.False(t, open)
	cancelB()
}

func TestFrameHub_SlowSubscriberKeepsNewest(t *testing.T) {
	h := NewFrameHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Broadcast(&models.Frame{CycleID: "old"})
	h.Broadcast(&models.Frame{CycleID: "new"})

	got := <-ch
	require.NotNil(t, got)
	assert.Equal(t, "new", got.CycleID)
}

func TestFrameHub_Close(t *testing.T) {
	h := NewFrameHub(1)
	ch, cancel := h.Subscribe()
	h.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()
	assert.Equal(t, 0, h.Subscribers())
}
