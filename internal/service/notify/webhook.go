package notify

import (
	"context"
	"net/http"

	domsvc "ZWatch/internal/domain/service"
	xhttp "ZWatch/pkg/http"
	applogger "ZWatch/pkg/logger"
)

// Webhook posts status text to a Slack-compatible webhook. Delivery is
// best-effort: Send reports the outcome but never returns an error, so a
// dead webhook cannot fail the caller's state transition.
type Webhook struct {
	http *xhttp.Client
	url  string
	log  *applogger.Logger
}

// NewWebhook creates a webhook notifier. An empty URL disables delivery;
// Send then succeeds without attempting a request, so an unconfigured
// webhook does not show up as delivery failures.
func NewWebhook(httpClient *xhttp.Client, url string, log *applogger.Logger) domsvc.Notifier {
	return &Webhook{http: httpClient, url: url, log: log}
}

func (w *Webhook) Send(ctx context.Context, text string) bool {
	if w.url == "" {
		if w.log != nil {
			w.log.Debug("notification skipped: no webhook configured")
		}
		return true
	}
	err := w.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: http.MethodPost,
		URL:    w.url,
		Body:   map[string]string{"text": text},
	}, nil)
	if err != nil {
		if w.log != nil {
			w.log.Warn("notification delivery failed", applogger.Error(err))
		}
		return false
	}
	return true
}
