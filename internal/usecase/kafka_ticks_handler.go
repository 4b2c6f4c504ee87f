package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TPMForge/internal/domain/models"
	domrepo "TPMForge/internal/domain/repository"
	pkgkafka "TPMForge/pkg/kafka"
	"TPMForge/pkg/util"
)

// TickProcessor accepts one tick; the middleware pipeline satisfies it.
type TickProcessor interface {
	Process(ctx context.Context, t *models.Tick) error
}

// KafkaTicksHandler feeds ticks from a Kafka topic into the detectors.
type KafkaTicksHandler struct {
	topic   string
	next    TickProcessor
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewKafkaTicksHandler(topic string, next TickProcessor, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, next: next, metrics: metrics, now: time.Now}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// tickMessage accepts both the native shape {series,index,value,at} and the
// compact market shape {symbol,t,c}.
type tickMessage struct {
	Series string          `json:"series"`
	Symbol string          `json:"symbol"`
	Index  int64           `json:"index"`
	Value  *float64        `json:"value"`
	C      *float64        `json:"c"`
	At     json.RawMessage `json:"at"`
	T      json.RawMessage `json:"t"`
}

// DecodeTick parses one tick message. Timestamps may be RFC3339 or unix
// seconds or millis.
func DecodeTick(b []byte) (*models.Tick, error) {
	var m tickMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode tick: %w", err)
	}
	t := &models.Tick{Series: m.Series, Index: m.Index}
	if t.Series == "" {
		t.Series = m.Symbol
	}
	switch {
	case m.Value != nil:
		t.Value = *m.Value
	case m.C != nil:
		t.Value = *m.C
	default:
		return nil, errors.New("decode tick: value missing")
	}
	raw := m.At
	if len(raw) == 0 {
		raw = m.T
	}
	if at, ok := util.ParseTime(string(raw)); ok {
		t.At = at
	}
	return t, nil
}

func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	t, err := DecodeTick(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if !t.At.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", h.now().Sub(t.At).Seconds())
	}
	if err := h.next.Process(ctx, t); err != nil {
		h.metrics.RecordError("consumer_tick")
		return err
	}
	h.metrics.RecordMessageSent("detector", t.Series)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
