package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/hooknotify/internal/config"
	"github.com/blackwell-systems/hooknotify/internal/credential"
	"github.com/blackwell-systems/hooknotify/internal/dispatch"
	"github.com/blackwell-systems/hooknotify/internal/logging"
	"github.com/blackwell-systems/hooknotify/internal/queue"
	"github.com/blackwell-systems/hooknotify/internal/ratelimit"
	"github.com/blackwell-systems/hooknotify/internal/sender"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

// Store config keys read by the senders.
const (
	keyWebhookURL    = "webhook_url"
	keyTelegramToken = "telegram_token"
)

// env holds the components shared by every command.
type env struct {
	cfg        *config.Config
	db         *store.DB
	box        *credential.Box
	queue      *queue.Queue
	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	closers []io.Closer
}

// openEnv loads the config, opens the database and wires the queue,
// limiter, senders and dispatcher. component tags every log entry.
func openEnv(component string) (*env, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return newEnv(cfg, component)
}

func newEnv(cfg *config.Config, component string) (*env, error) {
	log, logCloser, err := logging.New(logging.Options{
		Dir:       cfg.LogDir,
		Level:     logLevel(cfg),
		Console:   flagVerbose || os.Getenv("HOOKNOTIFY_DEBUG") != "",
		Component: component,
	})
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	rt := &env{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	box, err := credential.Open(cfg.Credential.KeyPath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("opening credential key: %w", err)
	}
	rt.box = box

	db, err := store.Open(cfg.DBPath, store.WithCipher(box))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	rt.db = db
	rt.closers = append(rt.closers, db)

	rt.queue = queue.New(db, queue.WithLogger(log))
	rt.limiter = ratelimit.New(db, cfg.RateLimit(), ratelimit.WithLogger(log))
	rt.dispatcher = dispatch.New(db, rt.queue, rt.senders(context.Background()),
		dispatch.WithSendTimeout(cfg.Sender.Timeout),
		dispatch.WithMaxRetries(cfg.Dispatcher.MaxRetries),
		dispatch.WithLogger(log),
	)
	return rt, nil
}

// senders builds the backend registry. The default backend is the webhook.
func (rt *env) senders(ctx context.Context) *sender.Registry {
	reg := sender.NewRegistry("webhook")
	reg.Register("webhook", sender.NewWebhook(rt.webhookURL, sender.WebhookOptions{
		Timeout:        rt.cfg.Sender.Timeout,
		RatePerSec:     rt.cfg.Sender.RatePerSec,
		AllowedDomains: rt.cfg.Sender.AllowedDomains,
		Logger:         rt.log,
	}))

	token := rt.cfg.Telegram.Token
	if token == "" {
		if v, ok, err := rt.db.GetConfig(ctx, keyTelegramToken); err == nil && ok {
			token = v
		}
	}
	reg.Register("telegram", sender.NewTelegram(token, rt.cfg.Telegram.ChatID, rt.cfg.Sender.Timeout))
	reg.Register("desktop", sender.NewDesktop())
	return reg
}

// webhookURL is the fallback URL chain for notifications without one:
// stored (decrypted) config first, then the config file.
func (rt *env) webhookURL(ctx context.Context) (string, error) {
	v, ok, err := rt.db.GetConfig(ctx, keyWebhookURL)
	if err != nil {
		return "", err
	}
	if ok && v != "" {
		return v, nil
	}
	if rt.cfg.WebhookURL != "" {
		return rt.cfg.WebhookURL, nil
	}
	return "", errors.New("no webhook_url configured")
}

// Close releases the database and log file.
func (rt *env) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
}

func logLevel(cfg *config.Config) string {
	if flagVerbose {
		return "debug"
	}
	return cfg.LogLevel
}
