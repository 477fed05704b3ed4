// Package hook turns developer-tool hook events into stored events,
// session updates and queued notifications.
package hook

import (
	"encoding/json"
	"fmt"
)

// Hook event names.
const (
	EventNotification = "Notification"
	EventStop         = "Stop"
	EventPreToolUse   = "PreToolUse"
	EventPostToolUse  = "PostToolUse"
)

// Notification types carried by Notification events.
const (
	TypePermissionPrompt = "permission_prompt"
	TypeIdlePrompt       = "idle_prompt"
)

// ToolAskUserQuestion is the tool whose use puts a session into the idle state.
const ToolAskUserQuestion = "AskUserQuestion"

// Event is one hook invocation as read from stdin.
type Event struct {
	SessionID        string         `json:"session_id"`
	Cwd              string         `json:"cwd"`
	HookEventName    string         `json:"hook_event_name"`
	NotificationType string         `json:"notification_type,omitempty"`
	Message          string         `json:"message,omitempty"`
	ToolName         string         `json:"tool_name,omitempty"`
	ToolInput        map[string]any `json:"tool_input,omitempty"`
	TranscriptPath   string         `json:"transcript_path,omitempty"`

	// Raw is the original JSON, stored verbatim as the event payload.
	Raw json.RawMessage `json:"-"`
}

// ParseEvent decodes a hook event.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("invalid event JSON: %w", err)
	}
	e.Raw = append(json.RawMessage(nil), data...)
	return &e, nil
}

// ValidationError reports a missing required field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "missing required field: " + e.Field
}

// Validate checks the fields each event kind needs.
func Validate(e *Event) error {
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id"}
	}
	if e.Cwd == "" {
		return &ValidationError{Field: "cwd"}
	}
	switch e.HookEventName {
	case EventNotification:
		if e.NotificationType == "" {
			return &ValidationError{Field: "notification_type"}
		}
	case EventPreToolUse, EventPostToolUse:
		if e.ToolName == "" {
			return &ValidationError{Field: "tool_name"}
		}
	}
	return nil
}
