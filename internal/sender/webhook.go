package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/blackwell-systems/hooknotify/internal/payload"
	"github.com/blackwell-systems/hooknotify/internal/queue"
)

// DefaultAllowedDomains are the webhook hosts accepted by ValidateURL.
// Subdomains of each entry are accepted too.
var DefaultAllowedDomains = []string{"hooks.slack.com", "discord.com", "hooks.zapier.com"}

// ErrInvalidURL is returned by ValidateURL.
var ErrInvalidURL = errors.New("invalid webhook URL")

// ValidateURL checks that raw is an https URL on one of the allowed domains.
func ValidateURL(raw string, allowed []string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: must use https (got %q)", ErrInvalidURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	for _, d := range allowed {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil
		}
	}
	return fmt.Errorf("%w: domain %q not allowed (allowed: %s)", ErrInvalidURL, host, strings.Join(allowed, ", "))
}

// URLSource returns the webhook URL to use when a notification carries none.
type URLSource func(ctx context.Context) (string, error)

// WebhookOptions configures a Webhook.
type WebhookOptions struct {
	Timeout        time.Duration
	RatePerSec     int
	AllowedDomains []string
	Client         *http.Client
	Logger         zerolog.Logger
}

// Webhook posts notifications as JSON to an HTTPS webhook.
type Webhook struct {
	client   *http.Client
	limiter  *rate.Limiter
	allowed  []string
	fallback URLSource
	log      zerolog.Logger
}

// NewWebhook creates a webhook sender. fallback supplies the URL for
// notifications whose payload has no webhook_url.
func NewWebhook(fallback URLSource, opts WebhookOptions) *Webhook {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if len(opts.AllowedDomains) == 0 {
		opts.AllowedDomains = DefaultAllowedDomains
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Webhook{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		allowed:  opts.AllowedDomains,
		fallback: fallback,
		log:      opts.Logger,
	}
}

// Send posts n to its webhook.
func (w *Webhook) Send(ctx context.Context, n *queue.Notification) error {
	target := payload.WebhookURL(n.Body)
	if target == "" && w.fallback != nil {
		u, err := w.fallback(ctx)
		if err != nil {
			return fmt.Errorf("resolving webhook URL: %w", err)
		}
		target = u
	}
	if target == "" {
		return errors.New("webhook URL not configured")
	}
	if err := ValidateURL(target, w.allowed); err != nil {
		return err
	}

	body, err := webhookBody(target, n.Body)
	if err != nil {
		return err
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	w.log.Debug().Int64("id", n.ID).Str("delivery_id", deliveryID).Msg("webhook delivered")
	return nil
}

// webhookBody renders the request body. Opaque payloads are posted as-is;
// typed ones become a text message, keyed "content" for Discord.
func webhookBody(target string, p payload.Payload) ([]byte, error) {
	if o, ok := p.(*payload.Opaque); ok {
		return o.Raw, nil
	}
	if p == nil {
		return nil, errors.New("empty payload")
	}

	key := "text"
	if u, err := url.Parse(target); err == nil {
		host := strings.ToLower(u.Hostname())
		if host == "discord.com" || strings.HasSuffix(host, ".discord.com") {
			key = "content"
		}
	}
	return json.Marshal(map[string]string{key: p.Text()})
}
