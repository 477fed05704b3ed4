// Package payload defines the typed notification bodies stored in the queue.
//
// Bodies are JSON objects tagged by a "type" field. Known kinds decode into
// Permission, Idle or Stop; anything else decodes into Opaque and re-encodes
// unchanged.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Known payload kinds.
const (
	KindPermission = "permission"
	KindIdle       = "idle"
	KindStop       = "stop"
)

// Payload is implemented by every notification body.
type Payload interface {
	// Kind returns the value of the "type" tag.
	Kind() string

	// DedupFields returns the subset of fields hashed for deduplication:
	// tool_name, tool_input and notification_type, omitting empty ones.
	DedupFields() map[string]any

	// Text renders a one-line message for backends without rich layout.
	Text() string
}

// Context is session metadata merged into outgoing payloads.
type Context struct {
	ProjectName   string `json:"project_name,omitempty"`
	Cwd           string `json:"cwd,omitempty"`
	GitBranch     string `json:"git_branch,omitempty"`
	TerminalType  string `json:"terminal_type,omitempty"`
	TerminalInfo  string `json:"terminal_info,omitempty"`
	SessionSerial string `json:"session_serial,omitempty"`
}

func (c Context) project() string {
	if c.ProjectName != "" {
		return c.ProjectName
	}
	if c.Cwd != "" {
		return filepath.Base(c.Cwd)
	}
	return "project"
}

// Permission asks the user to approve a tool call.
type Permission struct {
	ToolName         string         `json:"tool_name,omitempty"`
	ToolInput        map[string]any `json:"tool_input,omitempty"`
	NotificationType string         `json:"notification_type,omitempty"`
	Message          string         `json:"message,omitempty"`
	Context          Context        `json:"context"`
	SuppressedCount  int            `json:"suppressed_count,omitempty"`
	WebhookURL       string         `json:"webhook_url,omitempty"`
}

// Idle reports that the session is waiting for input.
type Idle struct {
	NotificationType string  `json:"notification_type,omitempty"`
	Message          string  `json:"message,omitempty"`
	Context          Context `json:"context"`
	SuppressedCount  int     `json:"suppressed_count,omitempty"`
	WebhookURL       string  `json:"webhook_url,omitempty"`
}

// Stop reports that a task finished.
type Stop struct {
	TaskDescription string  `json:"task_description,omitempty"`
	Context         Context `json:"context"`
	WebhookURL      string  `json:"webhook_url,omitempty"`
}

// Opaque carries a payload of an unrecognized kind.
type Opaque struct {
	Type string
	Raw  json.RawMessage
}

func (p *Permission) Kind() string { return KindPermission }
func (p *Idle) Kind() string       { return KindIdle }
func (p *Stop) Kind() string       { return KindStop }
func (p *Opaque) Kind() string     { return p.Type }

func (p *Permission) DedupFields() map[string]any {
	return dedupFields(p.ToolName, p.ToolInput, p.NotificationType)
}

func (p *Idle) DedupFields() map[string]any {
	return dedupFields("", nil, p.NotificationType)
}

func (p *Stop) DedupFields() map[string]any {
	return dedupFields("", nil, KindStop)
}

// DedupFields picks the dedup keys out of the raw object, if it is one.
func (p *Opaque) DedupFields() map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(p.Raw, &obj); err != nil {
		return map[string]any{}
	}
	out := make(map[string]any, 3)
	for _, k := range []string{"tool_name", "tool_input", "notification_type"} {
		if v, ok := obj[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

func dedupFields(toolName string, toolInput map[string]any, notificationType string) map[string]any {
	out := make(map[string]any, 3)
	if toolName != "" {
		out["tool_name"] = toolName
	}
	if toolInput != nil {
		out["tool_input"] = toolInput
	}
	if notificationType != "" {
		out["notification_type"] = notificationType
	}
	return out
}

func (p *Permission) Text() string {
	tool := p.ToolName
	if tool == "" {
		tool = "Unknown"
	}
	text := fmt.Sprintf("%s: %s permission required", p.Context.project(), tool)
	if detail := toolDetail(p.ToolName, p.ToolInput); detail != "" {
		text += " (" + detail + ")"
	}
	return withSuppressed(text, p.SuppressedCount)
}

func (p *Idle) Text() string {
	text := p.Context.project() + ": Waiting for input"
	if p.Message != "" {
		text += " - " + p.Message
	}
	return withSuppressed(text, p.SuppressedCount)
}

func (p *Stop) Text() string {
	text := p.Context.project() + ": Task complete"
	if p.TaskDescription != "" {
		text += " - " + p.TaskDescription
	}
	return text
}

// Text returns the raw "text" field when present, otherwise the raw JSON.
func (p *Opaque) Text() string {
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(p.Raw, &obj); err == nil && obj.Text != "" {
		return obj.Text
	}
	return string(p.Raw)
}

func withSuppressed(text string, n int) string {
	if n > 0 {
		return fmt.Sprintf("%s (+%d suppressed)", text, n)
	}
	return text
}

// toolDetail summarizes the most useful tool_input field for a few tools.
func toolDetail(tool string, input map[string]any) string {
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}
	switch tool {
	case "Bash":
		return truncate(str("command"), 100)
	case "Edit", "Write", "Read":
		if fp := str("file_path"); fp != "" {
			return filepath.Base(fp)
		}
	case "WebFetch":
		return str("url")
	case "Task":
		return truncate(strings.TrimSpace(str("subagent_type")+" "+str("description")), 100)
	}
	return ""
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// MarshalJSON adds the "type" tag.
func (p Permission) MarshalJSON() ([]byte, error) {
	type plain Permission
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{KindPermission, plain(p)})
}

// MarshalJSON adds the "type" tag.
func (p Idle) MarshalJSON() ([]byte, error) {
	type plain Idle
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{KindIdle, plain(p)})
}

// MarshalJSON adds the "type" tag.
func (p Stop) MarshalJSON() ([]byte, error) {
	type plain Stop
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{KindStop, plain(p)})
}

// MarshalJSON returns the raw bytes unchanged.
func (p Opaque) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// Encode serializes p with its "type" tag.
func Encode(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, errors.New("payload: encode nil")
	}
	if o, ok := p.(*Opaque); ok {
		return append(json.RawMessage(nil), o.Raw...), nil
	}
	return json.Marshal(p)
}

// Decode parses raw into the payload kind named by its "type" field.
// Unknown or missing kinds, and JSON values that are not objects, decode
// into Opaque.
func Decode(raw json.RawMessage) (Payload, error) {
	if !json.Valid(raw) {
		return nil, errors.New("payload: invalid JSON")
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return &Opaque{Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	var p Payload
	switch tag.Type {
	case KindPermission:
		p = &Permission{}
	case KindIdle:
		p = &Idle{}
	case KindStop:
		p = &Stop{}
	default:
		return &Opaque{Type: tag.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("payload: decoding %s: %w", tag.Type, err)
	}
	return p, nil
}

// WebhookURL returns the per-notification webhook override, if any.
func WebhookURL(p Payload) string {
	switch v := p.(type) {
	case *Permission:
		return v.WebhookURL
	case *Idle:
		return v.WebhookURL
	case *Stop:
		return v.WebhookURL
	case *Opaque:
		var obj struct {
			WebhookURL string `json:"webhook_url"`
		}
		_ = json.Unmarshal(v.Raw, &obj)
		return obj.WebhookURL
	}
	return ""
}

// WithSuppressed returns p with its suppressed count set, for kinds that
// carry one.
func WithSuppressed(p Payload, n int) Payload {
	switch v := p.(type) {
	case *Permission:
		v.SuppressedCount = n
	case *Idle:
		v.SuppressedCount = n
	}
	return p
}
