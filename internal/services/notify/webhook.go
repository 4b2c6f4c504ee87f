package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	xhttp "TPMForge/pkg/http"
	"TPMForge/pkg/logger"
)

// Message is the JSON body posted to each endpoint.
type Message struct {
	Text string `json:"text"`
}

// Webhook posts alerts to a fixed set of endpoints (chat bridges and the
// like). Delivery is best effort: every endpoint is tried.
type Webhook struct {
	client    *xhttp.Client
	endpoints []string
	log       *logger.Logger
}

func NewWebhook(client *xhttp.Client, endpoints []string, log *logger.Logger) *Webhook {
	if log == nil {
		log = logger.Nop()
	}
	eps := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			eps = append(eps, e)
		}
	}
	return &Webhook{client: client, endpoints: eps, log: log}
}

// Enabled reports whether any endpoint is configured.
func (w *Webhook) Enabled() bool { return len(w.endpoints) > 0 }

func (w *Webhook) Notify(ctx context.Context, msg string) error {
	var errs []error
	for _, ep := range w.endpoints {
		err := w.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodPost,
			URL:    ep,
			Body:   Message{Text: msg},
		}, nil)
		if err != nil {
			w.log.Warn("webhook delivery failed", logger.String("endpoint", ep), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
		}
	}
	return errors.Join(errs...)
}

// CullWarning formats the low-reward broadcast.
func CullWarning(agents []string) string {
	return "Forge circuit warning: low-reward agents=" + strings.Join(agents, ",")
}
