package notify

import (
	"context"
	"encoding/json"

	"TPMForge/pkg/queue"
)

// JobType is the queue message type for webhook deliveries.
const JobType = "notify.webhook"

// Enqueuer is the part of queue.Queue the outbox needs.
type Enqueuer interface {
	Register(job queue.Job)
	Enqueue(ctx context.Context, kind string, payload interface{}) error
}

// Outbox hands messages to a durable queue; a queue worker posts them
// through the webhook and retries failed deliveries.
type Outbox struct {
	q Enqueuer
}

// NewOutbox registers the delivery job for wh on q.
func NewOutbox(q Enqueuer, wh *Webhook) *Outbox {
	q.Register(queue.JobFunc{Kind: JobType, Fn: func(ctx context.Context, p json.RawMessage) error {
		m, err := queue.ParsePayload[Message](p)
		if err != nil {
			return err
		}
		return wh.Notify(ctx, m.Text)
	}})
	return &Outbox{q: q}
}

func (o *Outbox) Notify(ctx context.Context, msg string) error {
	return o.q.Enqueue(ctx, JobType, Message{Text: msg})
}
