package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/metrics"
	"github.com/go-resty/resty/v2"
)

const sendTimeout = 10 * time.Second

// AlertType categorizes the kind of alert.
type AlertType string

const (
	AlertTypeRunFailed        AlertType = "RUN_FAILED"
	AlertTypeRateLimited      AlertType = "UPSTREAM_RATE_LIMITED"
	AlertTypeGatewayDown      AlertType = "GATEWAY_DOWN"
	AlertTypeGatewayRecovered AlertType = "GATEWAY_RECOVERED"
)

// Alert is a single operator notification. Subject is the contract address
// for run alerts and the gateway URL for gateway alerts.
type Alert struct {
	Type    AlertType
	Network string
	Subject string
	Title   string
	Message string
	Fields  map[string]string
}

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans out alerts to multiple channels, suppressing repeats of
// the same (type, subject) within the cooldown.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger
	nowFn    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		nowFn:    time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s:%s", a.Type, a.Network, a.Subject)
}

// Send dispatches alert to all channels, respecting cooldown. The first
// channel error is returned after every channel was tried.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	key := cooldownKey(alert)
	now := m.nowFn()

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by cooldown", "key", key)
		for _, a := range m.alerters {
			metrics.AlertsCooldownSkipped.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
		return nil
	}
	m.lastSent[key] = now
	m.mu.Unlock()

	var firstErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed",
				"channel", alerterName(a),
				"type", alert.Type,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			metrics.AlertsSentTotal.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
	}
	return firstErr
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	default:
		return "unknown"
	}
}

// ForRunError builds the alert for a failed indexing run. Rate limiting
// gets its own type so it can be routed separately.
func ForRunError(network, kind, contract string, err error) Alert {
	a := Alert{
		Type:    AlertTypeRunFailed,
		Network: network,
		Subject: contract,
		Title:   fmt.Sprintf("%s run failed", kind),
		Message: err.Error(),
		Fields: map[string]string{
			"kind":       kind,
			"error_kind": indexerr.KindOf(err).String(),
		},
	}
	if errors.Is(err, indexerr.ErrUpstreamRateLimited) {
		a.Type = AlertTypeRateLimited
		a.Title = "order api is rate limiting"
	}
	return a
}

// SlackAlerter posts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *resty.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(sendTimeout),
	}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji := ":warning:"
	switch alert.Type {
	case AlertTypeGatewayRecovered:
		emoji = ":white_check_mark:"
	case AlertTypeRateLimited:
		emoji = ":hourglass:"
	case AlertTypeGatewayDown:
		emoji = ":rotating_light:"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s *[%s]* %s %s: %s\n%s",
		emoji, alert.Type, alert.Network, alert.Subject, alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		text.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&text, "- *%s*: %s\n", k, alert.Fields[k])
		}
	}

	return post(ctx, s.client, s.webhookURL, "slack", map[string]string{"text": text.String()})
}

// WebhookAlerter posts a JSON document to a generic HTTP endpoint.
type WebhookAlerter struct {
	url    string
	client *resty.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: resty.New().SetTimeout(sendTimeout),
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"type":    string(alert.Type),
		"network": alert.Network,
		"subject": alert.Subject,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	return post(ctx, w.client, w.url, "webhook", payload)
}

func post(ctx context.Context, client *resty.Client, url, channel string, payload any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", channel, err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode())
	}
	return nil
}

// NoopAlerter does nothing. Used when no alert channels are configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
