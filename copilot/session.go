package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout applies to prompts sent without an explicit timeout.
const DefaultRequestTimeout = 60 * time.Second

// Wire API flavors a custom provider may speak.
const (
	WireAPICompletions = "completions"
	WireAPIResponses   = "responses"
)

// ProviderConfig overrides the model provider for a session.
type ProviderConfig struct {
	Type    string `json:"type"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	WireAPI string `json:"wire_api,omitempty"`
}

// SessionConfig configures a new session.
type SessionConfig struct {
	Model               string
	Provider            *ProviderConfig
	OnPermissionRequest PermissionHandler
}

// Validate checks the config without touching the subprocess.
func (c SessionConfig) Validate() error {
	if c.Model == "" {
		return &InvalidConfigError{Field: "model", Reason: "required"}
	}
	if p := c.Provider; p != nil {
		if p.Type == "" {
			return &InvalidConfigError{Field: "provider.type", Reason: "required"}
		}
		if p.BaseURL == "" {
			return &InvalidConfigError{Field: "provider.base_url", Reason: "required"}
		}
		switch p.WireAPI {
		case "", WireAPICompletions, WireAPIResponses:
		default:
			return &InvalidConfigError{
				Field:  "provider.wire_api",
				Reason: fmt.Sprintf("must be %q or %q, got %q", WireAPICompletions, WireAPIResponses, p.WireAPI),
			}
		}
	}
	return nil
}

// Attachment is a file sent alongside a prompt.
type Attachment struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
}

// MessageOptions is a prompt to send.
type MessageOptions struct {
	Prompt      string
	Attachments []Attachment
	// Timeout bounds the turn. Zero means DefaultRequestTimeout.
	Timeout time.Duration
}

// EventHandler receives session events.
type EventHandler func(Event)

type listenerEntry struct {
	id uint64
	fn EventHandler
}

// Session is one conversation multiplexed over the Client's process.
//
// Events for the session are queued by the Client's read loop and delivered
// by a dedicated dispatch goroutine, so a slow listener never stalls other
// sessions or the read loop itself.
type Session struct {
	id       string
	model    string
	provider *ProviderConfig

	permissions       PermissionHandler
	permissionTimeout time.Duration

	writer  frameWriter
	log     *slog.Logger
	pending *pendingTable

	listenerMu     sync.Mutex
	listeners      atomic.Pointer[[]listenerEntry]
	nextListenerID uint64

	inboxMu sync.Mutex
	inbox   []Event
	signal  chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	once    sync.Once
	onClose func(id string)
}

func newSession(id string, cfg SessionConfig, w frameWriter, log *slog.Logger, onClose func(string)) *Session {
	var provider *ProviderConfig
	if cfg.Provider != nil {
		p := *cfg.Provider
		provider = &p
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:                id,
		model:             cfg.Model,
		provider:          provider,
		permissions:       cfg.OnPermissionRequest,
		permissionTimeout: PermissionTimeout,
		writer:            w,
		log:               log,
		pending:           newPendingTable(),
		signal:            make(chan struct{}, 1),
		ctx:               ctx,
		cancel:            cancel,
		onClose:           onClose,
	}
	s.listeners.Store(&[]listenerEntry{})
	go s.dispatchLoop()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Model returns the model the session was created with.
func (s *Session) Model() string { return s.model }

// Provider returns a copy of the provider override, or nil.
func (s *Session) Provider() *ProviderConfig {
	if s.provider == nil {
		return nil
	}
	p := *s.provider
	return &p
}

// PendingCount returns the number of outstanding requests.
func (s *Session) PendingCount() int {
	return s.pending.len()
}

// On registers fn for every event of this session, delivered in arrival
// order on the dispatch goroutine. The returned func unregisters it.
func (s *Session) On(fn EventHandler) func() {
	s.listenerMu.Lock()
	s.nextListenerID++
	id := s.nextListenerID
	next := append(slices.Clone(*s.listeners.Load()), listenerEntry{id: id, fn: fn})
	s.listeners.Store(&next)
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			defer s.listenerMu.Unlock()
			next := slices.DeleteFunc(slices.Clone(*s.listeners.Load()), func(e listenerEntry) bool {
				return e.id == id
			})
			s.listeners.Store(&next)
		})
	}
}

// Send writes a prompt and returns without waiting for the reply.
func (s *Session) Send(ctx context.Context, opts MessageOptions) (*PendingRequest, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Prompt == "" {
		return nil, errors.New("prompt is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	requestID := uuid.NewString()
	p, err := s.pending.add(requestID, timeout)
	if err != nil {
		return nil, err
	}

	frame := sessionSendFrame{
		Type:        frameSessionSend,
		RequestID:   requestID,
		SessionID:   s.id,
		Prompt:      opts.Prompt,
		Attachments: opts.Attachments,
	}
	if err := writeFrame(s.writer, frame); err != nil {
		p.fail(err)
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}

	s.log.Debug("prompt sent", "requestID", requestID, "timeout", timeout)
	return p, nil
}

// SendAndWait sends a prompt and blocks until the turn completes, the
// timeout elapses, or ctx ends. A zero timeout means DefaultRequestTimeout.
//
// The result is the last assistant.message of the turn, or the session.idle
// event when the turn produced no message. On timeout the error wraps ErrTimeout.
func (s *Session) SendAndWait(ctx context.Context, opts MessageOptions, timeout time.Duration) (*Event, error) {
	if timeout > 0 {
		opts.Timeout = timeout
	}
	p, err := s.Send(ctx, opts)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Destroy tells the subprocess to drop the session, fails outstanding
// requests with ErrSessionClosed and stops dispatch. Calling it again is a no-op.
func (s *Session) Destroy() error {
	first := false
	s.once.Do(func() { first = true })
	if !first {
		return nil
	}
	s.closed.Store(true)

	err := writeFrame(s.writer, sessionDestroyFrame{Type: frameSessionDestroy, SessionID: s.id})

	if n := s.pending.close(fmt.Errorf("session %s: %w", s.id, ErrSessionClosed)); n > 0 {
		s.log.Debug("failed outstanding requests", "count", n)
	}
	s.cancel()
	if s.onClose != nil {
		s.onClose(s.id)
	}
	s.log.Debug("session destroyed")

	if err != nil && !errors.Is(err, ErrChannelClosed) {
		return fmt.Errorf("destroy session %s: %w", s.id, err)
	}
	return nil
}

// expirePending times out every outstanding request.
func (s *Session) expirePending(err error) int {
	return s.pending.expireAll(err)
}

// enqueue hands an event to the dispatch goroutine. It never blocks.
func (s *Session) enqueue(ev Event) {
	if s.closed.Load() {
		return
	}
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, ev)
	s.inboxMu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Session) next() (Event, bool) {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	if len(s.inbox) == 0 {
		return Event{}, false
	}
	ev := s.inbox[0]
	s.inbox[0] = Event{}
	s.inbox = s.inbox[1:]
	return ev, true
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
		}
		for s.ctx.Err() == nil {
			ev, ok := s.next()
			if !ok {
				break
			}
			s.dispatch(ev)
		}
	}
}

// dispatch delivers ev to listeners and then settles the request it belongs to.
func (s *Session) dispatch(ev Event) {
	if ev.Type == EventPermissionRequest {
		// The subprocess blocks until it hears back, whatever state the request is in.
		s.answerPermission(ev)
		s.deliver(ev)
		return
	}

	var p *PendingRequest
	if ev.RequestID != "" {
		var ok bool
		if p, ok = s.pending.get(ev.RequestID); !ok {
			s.log.Debug("dropping event for unknown request", "type", ev.Type, "requestID", ev.RequestID)
			return
		}
	}

	s.deliver(ev)

	if p == nil {
		return
	}
	switch ev.Type {
	case EventAssistantMessage:
		p.record(ev)
	case EventSessionIdle:
		p.complete(ev)
	case EventSessionError:
		p.fail(&SessionError{SessionID: s.id, RequestID: ev.RequestID, Message: ev.Data.Message})
	}
}

func (s *Session) deliver(ev Event) {
	for _, l := range *s.listeners.Load() {
		s.invoke(l.fn, ev)
	}
}

func (s *Session) invoke(fn EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("listener panicked", "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

func (s *Session) answerPermission(ev Event) {
	req := PermissionRequest{
		SessionID:    s.id,
		RequestID:    ev.RequestID,
		PermissionID: ev.Data.PermissionID,
		Kind:         ev.Data.Kind,
		ToolName:     ev.Data.ToolName,
		Details:      ev.Data.Arguments,
	}

	decision, err := decide(s.ctx, s.permissions, req, s.permissionTimeout)
	if err != nil {
		s.log.Warn("permission request denied", "permissionID", req.PermissionID, "error", err)
	}
	s.log.Debug("permission decided", "permissionID", req.PermissionID, "kind", req.Kind, "decision", decision.Kind)

	frame := permissionResponseFrame{
		Type:         framePermissionResponse,
		SessionID:    s.id,
		PermissionID: req.PermissionID,
		Decision:     decision,
	}
	if err := writeFrame(s.writer, frame); err != nil {
		s.log.Error("failed to answer permission request", "permissionID", req.PermissionID, "error", err)
	}
}
