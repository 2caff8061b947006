package copilot

import (
	"encoding/json"
	"fmt"
)

// Outbound frame types.
const (
	frameModelsList         = "models.list"
	frameSessionCreate      = "session.create"
	frameSessionSend        = "session.send"
	framePermissionResponse = "permission.response"
	frameSessionDestroy     = "session.destroy"
	frameShutdown           = "shutdown"
)

type modelsListFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type sessionCreateFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Provider  *ProviderConfig `json:"provider,omitempty"`
}

type sessionSendFrame struct {
	Type        string       `json:"type"`
	RequestID   string       `json:"request_id"`
	SessionID   string       `json:"session_id"`
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type permissionResponseFrame struct {
	Type         string             `json:"type"`
	SessionID    string             `json:"session_id"`
	PermissionID string             `json:"permission_id"`
	Decision     PermissionDecision `json:"decision"`
}

type sessionDestroyFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type shutdownFrame struct {
	Type string `json:"type"`
}

// frameWriter is the only view of the channel a Session gets.
type frameWriter interface {
	Write(frame []byte) error
}

// writeFrame marshals v and writes it as a single line.
func writeFrame(w frameWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return w.Write(data)
}
