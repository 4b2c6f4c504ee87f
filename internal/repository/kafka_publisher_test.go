package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
	pkgkafka "TPMForge/pkg/kafka"
)

type memWriter struct{ msgs []kafka.Message }

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestKafkaPublisher_FrameAndAlert(t *testing.T) {
	w := &memWriter{}
	pub := NewKafkaPublisher(pkgkafka.NewProducerWithWriter(w, "gzip"), "forge.frames", "forge.alerts")
	ctx := context.Background()

	require.NoError(t, pub.PublishFrame(ctx, &models.Frame{TS: 10, CycleID: "cyc-1"}))
	require.NoError(t, pub.PublishAlert(ctx, &models.Alert{Series: "btc", Index: 7, Alpha: 0.9}))
	require.NoError(t, pub.PublishFrame(ctx, nil))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "forge.frames", w.msgs[0].Topic)
	assert.Equal(t, "cyc-1", string(w.msgs[0].Key))
	assert.Equal(t, "forge.alerts", w.msgs[1].Topic)
	assert.Equal(t, "btc", string(w.msgs[1].Key))
	assert.Equal(t, "alert", string(w.msgs[1].Headers[0].Value))

	var a models.Alert
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &a))
	assert.Equal(t, int64(7), a.Index)
}
