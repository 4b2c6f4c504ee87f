package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
)

type tickRecorder struct {
	ticks []*models.Tick
	err   error
}

func (r *tickRecorder) Process(_ context.Context, t *models.Tick) error {
	r.ticks = append(r.ticks, t)
	return r.err
}

func TestDecodeTick(t *testing.T) {
	tick, err := DecodeTick([]byte(`{"series":"btc","index":4,"value":101.5,"at":1700000000}`))
	require.NoError(t, err)
	assert.Equal(t, &models.Tick{Series: "btc", Index: 4, Value: 101.5, At: time.Unix(1700000000, 0).UTC()}, tick)

	tick, err = DecodeTick([]byte(`{"symbol":"ETH","t":1700000000123,"c":0}`))
	require.NoError(t, err)
	assert.Equal(t, "ETH", tick.Series)
	assert.Equal(t, 0.0, tick.Value)
	assert.Equal(t, int64(1700000000), tick.At.Unix())

	tick, err = DecodeTick([]byte(`{"series":"x","value":1,"at":"2024-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), tick.At)

	tick, err = DecodeTick([]byte(`{"series":"x","value":1}`))
	require.NoError(t, err)
	assert.True(t, tick.At.IsZero())

	_, err = DecodeTick([]byte(`{"series":"x"}`))
	assert.Error(t, err)
	_, err = DecodeTick([]byte(`{`))
	assert.Error(t, err)
}

func TestKafkaTicksHandler_Handle(t *testing.T) {
	next := &tickRecorder{}
	m := newMetrics()
	h := NewKafkaTicksHandler("forge.ticks", next, m)
	assert.Equal(t, "forge.ticks", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"series":"btc","value":1,"at":1700000000}`)))
	require.Len(t, next.ticks, 1)
	assert.Equal(t, []string{"detector:btc"}, m.sent)
	assert.Equal(t, []string{"ingest_e2e_seconds"}, m.latency)

	assert.Error(t, h.Handle(context.Background(), []byte(`nope`)))
	next.err = errors.New("pipeline full")
	assert.Error(t, h.Handle(context.Background(), []byte(`{"series":"btc","value":2}`)))
	assert.Equal(t, []string{"consumer_unmarshal", "consumer_tick"}, m.errors())
}
