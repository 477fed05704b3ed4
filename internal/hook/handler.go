package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/hooknotify/internal/enrich"
	"github.com/blackwell-systems/hooknotify/internal/payload"
	"github.com/blackwell-systems/hooknotify/internal/queue"
	"github.com/blackwell-systems/hooknotify/internal/ratelimit"
	"github.com/blackwell-systems/hooknotify/internal/store"
)

// Result statuses.
const (
	StatusQueued     = "queued"
	StatusSuppressed = "suppressed"
	StatusSkipped    = "skipped"
	StatusStored     = "stored"
	StatusProcessed  = "processed"
	StatusIgnored    = "ignored"
)

// Keys of Settings.NotifyOn.
const (
	NotifyPermission   = "permission_required"
	NotifyInput        = "input_required"
	NotifyTaskComplete = "task_complete"
)

// Result describes what Handle did with an event.
type Result struct {
	Status         string `json:"status"`
	EventID        int64  `json:"event_id,omitempty"`
	NotificationID int64  `json:"notification_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Settings are the notification switches read from the config file.
type Settings struct {
	NotifyOn     map[string]bool
	NotifyAlways bool
	Backend      string
	WebhookURL   string
}

func (s Settings) enabled(key string) bool {
	on, ok := s.NotifyOn[key]
	return !ok || on
}

// Handler routes hook events.
type Handler struct {
	db       *store.DB
	queue    *queue.Queue
	limiter  *ratelimit.Limiter
	enricher enrich.Enricher
	settings Settings
	log      zerolog.Logger
}

// NewHandler creates a Handler. A nil enricher uses enrich.NewEnv().
func NewHandler(db *store.DB, q *queue.Queue, limiter *ratelimit.Limiter, enricher enrich.Enricher, settings Settings, log zerolog.Logger) *Handler {
	if enricher == nil {
		enricher = enrich.NewEnv()
	}
	return &Handler{db: db, queue: q, limiter: limiter, enricher: enricher, settings: settings, log: log}
}

// Handle validates e and routes it by hook_event_name. Invalid events
// return a *ValidationError and write nothing.
func (h *Handler) Handle(ctx context.Context, e *Event) (Result, error) {
	if err := Validate(e); err != nil {
		h.log.Warn().Err(err).Str("event", e.HookEventName).Msg("rejected hook event")
		return Result{}, err
	}

	log := h.log.With().Str("event", e.HookEventName).Str("session", enrich.SessionSerial(e.SessionID)).Logger()
	log.Debug().Msg("processing hook event")

	var (
		res Result
		err error
	)
	switch e.HookEventName {
	case EventNotification:
		res, err = h.handleNotification(ctx, e)
	case EventStop:
		res, err = h.handleStop(ctx, e)
	case EventPreToolUse:
		res, err = h.handlePreToolUse(ctx, e)
	case EventPostToolUse:
		res, err = h.handlePostToolUse(ctx, e)
	default:
		res = Result{Status: StatusIgnored, Reason: "unknown event: " + e.HookEventName}
	}
	if err != nil {
		log.Error().Err(err).Msg("handling hook event")
		return res, err
	}
	log.Info().Str("status", res.Status).Str("reason", res.Reason).Int64("notification_id", res.NotificationID).Msg("hook event handled")
	return res, nil
}

func (h *Handler) handleNotification(ctx context.Context, e *Event) (Result, error) {
	pctx, err := h.ensureSession(ctx, e)
	if err != nil {
		return Result{}, err
	}
	if err := h.db.TouchSession(ctx, e.SessionID); err != nil {
		return Result{}, err
	}
	if e.NotificationType == TypeIdlePrompt {
		if err := h.db.SetSessionIdle(ctx, e.SessionID, true); err != nil {
			return Result{}, err
		}
	}

	eventID, err := h.db.InsertEvent(ctx, e.SessionID, "notification", e.Raw, 0)
	if err != nil {
		return Result{}, err
	}

	var (
		p         payload.Payload
		kind      string
		switchKey string
	)
	switch e.NotificationType {
	case TypePermissionPrompt:
		kind, switchKey = payload.KindPermission, NotifyPermission
		p = &payload.Permission{
			ToolName:         e.ToolName,
			ToolInput:        e.ToolInput,
			NotificationType: e.NotificationType,
			Message:          e.Message,
			Context:          pctx,
			WebhookURL:       h.settings.WebhookURL,
		}
	case TypeIdlePrompt:
		kind, switchKey = payload.KindIdle, NotifyInput
		p = &payload.Idle{
			NotificationType: e.NotificationType,
			Message:          e.Message,
			Context:          pctx,
			WebhookURL:       h.settings.WebhookURL,
		}
	default:
		return Result{Status: StatusStored, EventID: eventID}, nil
	}

	if !h.settings.enabled(switchKey) {
		return Result{Status: StatusSkipped, EventID: eventID, Reason: switchKey + " disabled"}, nil
	}
	return h.admit(ctx, e, eventID, e.NotificationType, kind, p)
}

func (h *Handler) handleStop(ctx context.Context, e *Event) (Result, error) {
	pctx, err := h.ensureSession(ctx, e)
	if err != nil {
		return Result{}, err
	}
	eventID, err := h.db.InsertEvent(ctx, e.SessionID, "stop", e.Raw, 0)
	if err != nil {
		return Result{}, err
	}
	if err := h.db.EndSession(ctx, e.SessionID); err != nil {
		return Result{}, err
	}
	h.audit(ctx, store.ActionSessionEnded, e.SessionID, map[string]any{"event_id": eventID, "cwd": e.Cwd})

	if !h.settings.enabled(NotifyTaskComplete) {
		return Result{Status: StatusSkipped, EventID: eventID, Reason: NotifyTaskComplete + " disabled"}, nil
	}
	if pctx.TerminalType != "tmux" && !h.settings.NotifyAlways {
		return Result{Status: StatusSkipped, EventID: eventID, Reason: "not in tmux and notify_always=false"}, nil
	}

	p := &payload.Stop{Context: pctx, WebhookURL: h.settings.WebhookURL}
	return h.admit(ctx, e, eventID, payload.KindStop, payload.KindStop, p)
}

func (h *Handler) handlePreToolUse(ctx context.Context, e *Event) (Result, error) {
	if _, err := h.ensureSession(ctx, e); err != nil {
		return Result{}, err
	}
	eventID, err := h.db.InsertEvent(ctx, e.SessionID, "pre_tool_use", e.Raw, 0)
	if err != nil {
		return Result{}, err
	}
	if err := h.db.TouchSession(ctx, e.SessionID); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusStored, EventID: eventID}, nil
}

func (h *Handler) handlePostToolUse(ctx context.Context, e *Event) (Result, error) {
	if e.ToolName != ToolAskUserQuestion {
		return Result{Status: StatusProcessed}, nil
	}
	if _, err := h.ensureSession(ctx, e); err != nil {
		return Result{}, err
	}
	eventID, err := h.db.InsertEvent(ctx, e.SessionID, "post_tool_use", e.Raw, 0)
	if err != nil {
		return Result{}, err
	}
	if err := h.db.SetSessionIdle(ctx, e.SessionID, true); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusStored, EventID: eventID}, nil
}

// admit runs the rate limiter and, when allowed, records the send and
// enqueues p with the count of notifications suppressed before it.
func (h *Handler) admit(ctx context.Context, e *Event, eventID int64, limitType, kind string, p payload.Payload) (Result, error) {
	decision, err := h.limiter.ShouldSend(ctx, e.SessionID, limitType, p)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}
	if !decision.Allowed {
		h.audit(ctx, store.ActionNotificationSuppressed, e.SessionID, map[string]any{
			"type":       kind,
			"event_id":   eventID,
			"reason":     decision.Reason,
			"suppressed": decision.SuppressedCount,
		})
		h.markProcessed(ctx, eventID)
		return Result{Status: StatusSuppressed, EventID: eventID, Reason: decision.Reason}, nil
	}

	prior, err := h.limiter.RecordSent(ctx, e.SessionID, limitType, p)
	if err != nil {
		return Result{}, fmt.Errorf("recording send: %w", err)
	}
	payload.WithSuppressed(p, prior)

	id, err := h.queue.Enqueue(ctx, kind, p, e.SessionID, h.settings.Backend, eventID)
	if err != nil {
		return Result{}, err
	}
	h.audit(ctx, store.ActionNotificationQueued, e.SessionID, map[string]any{
		"notification_id": id,
		"type":            kind,
		"event_id":        eventID,
	})
	h.markProcessed(ctx, eventID)
	return Result{Status: StatusQueued, EventID: eventID, NotificationID: id, Reason: decision.Reason}, nil
}

// ensureSession creates the session on its first event and returns the
// context for outgoing payloads.
func (h *Handler) ensureSession(ctx context.Context, e *Event) (payload.Context, error) {
	pctx := h.enricher.Enrich(e.Cwd, e.SessionID)

	_, err := h.db.GetSession(ctx, e.SessionID)
	if err == nil {
		return pctx, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return pctx, err
	}

	s := &store.Session{
		SessionID:    e.SessionID,
		ProjectName:  pctx.ProjectName,
		Cwd:          e.Cwd,
		GitBranch:    pctx.GitBranch,
		TerminalType: pctx.TerminalType,
		TerminalInfo: pctx.TerminalInfo,
	}
	if err := h.db.CreateSession(ctx, s); err != nil {
		// A concurrent hook may have created it first.
		if uerr := h.db.UpsertSession(ctx, s); uerr != nil {
			return pctx, err
		}
	}
	return pctx, nil
}

func (h *Handler) markProcessed(ctx context.Context, eventID int64) {
	if err := h.db.MarkEventProcessed(ctx, eventID); err != nil {
		h.log.Debug().Err(err).Int64("event_id", eventID).Msg("marking event processed")
	}
}

func (h *Handler) audit(ctx context.Context, action, sessionID string, details map[string]any) {
	if _, err := h.db.InsertAuditLog(ctx, action, sessionID, details); err != nil {
		h.log.Debug().Err(err).Str("action", action).Msg("writing audit log")
	}
}
