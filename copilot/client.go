package copilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zhubert/copilot-chat/logger"
)

const (
	// DefaultCLIName is looked up on PATH when no explicit path is configured.
	DefaultCLIName = "copilot"
	// CLIPathEnv overrides the executable location.
	CLIPathEnv = "COPILOT_CLI_PATH"

	// DefaultDiscoveryTimeout bounds models.list and session.create replies.
	DefaultDiscoveryTimeout = 30 * time.Second
)

// defaultCLIArgs puts the copilot executable into stdio server mode.
var defaultCLIArgs = []string{"--server", "--stdio"}

// ClientOptions configures a Client. The zero value is usable.
type ClientOptions struct {
	// CLIPath is the executable to run. Empty means $COPILOT_CLI_PATH, then
	// "copilot" on PATH.
	CLIPath string
	// Args replaces the default server-mode arguments when non-nil.
	Args       []string
	Env        []string
	WorkingDir string
	// LogLevel is forwarded to the subprocess as --log-level when set.
	LogLevel string

	DiscoveryTimeout time.Duration
	GracePeriod      time.Duration

	Logger *slog.Logger
	// FrameLog receives a copy of every frame, prefixed with "<" (inbound)
	// or ">" (outbound).
	FrameLog io.Writer
}

// ResolveCLIPath returns the executable the Client would launch.
func ResolveCLIPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(CLIPathEnv); p != "" {
		return p
	}
	return DefaultCLIName
}

type errorListener struct {
	id uint64
	fn func(error)
}

// Client owns the copilot subprocess and the sessions multiplexed over it.
type Client struct {
	opts ClientOptions
	log  *slog.Logger

	mu       sync.Mutex
	started  bool
	stopping bool
	channel  *ProcessChannel
	writer   frameWriter
	mirror   *frameMirror
	sessions map[string]*Session
	loopDone chan struct{}

	// control holds models.list and session.create requests.
	control *pendingTable

	errMu          sync.Mutex
	errListeners   []errorListener
	nextListenerID uint64

	modelsGroup singleflight.Group
	modelsMu    sync.Mutex
	models      []ModelInfo
}

// NewClient creates a Client. Nothing is spawned until Start.
func NewClient(opts ClientOptions) *Client {
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("copilot")
	}
	return &Client{
		opts:     opts,
		log:      log,
		sessions: make(map[string]*Session),
		control:  newPendingTable(),
	}
}

// Start launches the subprocess and begins reading its events.
// A Client can be started once; later calls return ErrAlreadyStarted.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}

	args := slices.Clone(c.opts.Args)
	if c.opts.Args == nil {
		args = slices.Clone(defaultCLIArgs)
	}
	if c.opts.LogLevel != "" {
		args = append(args, "--log-level", c.opts.LogLevel)
	}

	ch := NewProcessChannel(ChannelConfig{
		Path:        ResolveCLIPath(c.opts.CLIPath),
		Args:        args,
		Env:         c.opts.Env,
		Dir:         c.opts.WorkingDir,
		GracePeriod: c.opts.GracePeriod,
	}, c.log)
	if err := ch.Start(ctx); err != nil {
		return err
	}

	c.started = true
	c.channel = ch
	c.writer = ch
	if c.opts.FrameLog != nil {
		c.mirror = &frameMirror{next: ch, out: c.opts.FrameLog}
		c.writer = c.mirror
	}
	c.loopDone = make(chan struct{})
	go c.readLoop(ch, c.mirror, c.loopDone)
	return nil
}

// readLoop decodes and routes every event until the stream closes.
func (c *Client) readLoop(ch *ProcessChannel, mirror *frameMirror, done chan struct{}) {
	defer close(done)
	c.log.Debug("read loop started")

	frames := ch.Frames()
	if mirror != nil {
		frames = mirror.inbound(frames)
	}
	for ev := range Events(frames, c.log) {
		c.route(ev)
	}

	c.mu.Lock()
	stopping := c.stopping
	sessions := c.sessionList()
	c.mu.Unlock()

	exitErr := fmt.Errorf("copilot process exited: %w", ErrChannelClosed)
	c.control.expireAll(exitErr)
	for _, s := range sessions {
		s.expirePending(exitErr)
	}

	if !stopping {
		select {
		case <-ch.Done():
		case <-time.After(c.opts.GracePeriod):
		}
		c.log.Warn("copilot process exited unexpectedly", "error", ch.ExitErr(), "stderr", truncateForLog(ch.Stderr()))
		c.emitError(exitErr)
	}
	c.log.Debug("read loop finished")
}

// route delivers one event to whoever is waiting for it.
func (c *Client) route(ev Event) {
	if ev.Type == EventDecodeError {
		c.emitError(ev.Err)
		return
	}

	if ev.RequestID != "" {
		if p, ok := c.control.get(ev.RequestID); ok {
			c.settleControl(p, ev)
			return
		}
	}

	if ev.SessionID != "" {
		c.mu.Lock()
		s := c.sessions[ev.SessionID]
		c.mu.Unlock()
		if s == nil {
			c.log.Warn("event for unknown session", "type", ev.Type, "sessionID", ev.SessionID)
			c.emitError(fmt.Errorf("%s event for unknown session %s", ev.Type, ev.SessionID))
			return
		}
		s.enqueue(ev)
		return
	}

	if ev.Type == EventError {
		c.emitError(eventError(ev))
		return
	}
	c.log.Debug("dropping unroutable event", "type", ev.Type, "requestID", ev.RequestID)
}

func (c *Client) settleControl(p *PendingRequest, ev Event) {
	switch ev.Type {
	case EventModelsListResult, EventSessionCreated:
		p.complete(ev)
	case EventError, EventSessionError:
		p.fail(eventError(ev))
	default:
		c.log.Debug("ignoring event for control request", "type", ev.Type, "requestID", ev.RequestID)
	}
}

func eventError(ev Event) error {
	if ev.SessionID != "" {
		return &SessionError{SessionID: ev.SessionID, RequestID: ev.RequestID, Message: ev.Data.Message}
	}
	return fmt.Errorf("copilot error: %s", ev.Data.Message)
}

// OnError registers fn for process-wide errors: malformed frames, error
// events, events for unknown sessions, and unexpected process exit.
func (c *Client) OnError(fn func(error)) func() {
	c.errMu.Lock()
	c.nextListenerID++
	id := c.nextListenerID
	c.errListeners = append(slices.Clone(c.errListeners), errorListener{id: id, fn: fn})
	c.errMu.Unlock()

	return func() {
		c.errMu.Lock()
		defer c.errMu.Unlock()
		c.errListeners = slices.DeleteFunc(slices.Clone(c.errListeners), func(l errorListener) bool {
			return l.id == id
		})
	}
}

func (c *Client) emitError(err error) {
	c.errMu.Lock()
	listeners := c.errListeners
	c.errMu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("error listener panicked", "panic", r)
				}
			}()
			l.fn(err)
		}()
	}
}

// ListModels returns the models the subprocess offers, in the order it
// reports them. The first successful result is cached; concurrent callers
// share one in-flight query.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	c.modelsMu.Lock()
	cached := c.models
	c.modelsMu.Unlock()
	if cached != nil {
		return slices.Clone(cached), nil
	}

	resultCh := c.modelsGroup.DoChan("models", func() (any, error) {
		return c.fetchModels()
	})
	select {
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]ModelInfo)), nil
	case <-ctx.Done():
		return nil, &DiscoveryError{Reason: "cancelled", Err: ctx.Err()}
	}
}

func (c *Client) fetchModels() ([]ModelInfo, error) {
	w, err := c.activeWriter()
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	p, err := c.control.add(requestID, c.opts.DiscoveryTimeout)
	if err != nil {
		return nil, &DiscoveryError{Reason: "could not register request", Err: err}
	}
	if err := writeFrame(w, modelsListFrame{Type: frameModelsList, RequestID: requestID}); err != nil {
		p.fail(err)
		return nil, &DiscoveryError{Reason: "could not send request", Err: err}
	}

	ev, err := p.Wait(context.Background())
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, &DiscoveryError{Reason: fmt.Sprintf("no reply within %s", c.opts.DiscoveryTimeout), Err: err}
		}
		return nil, &DiscoveryError{Reason: "request failed", Err: err}
	}

	models := ev.Data.Models
	if models == nil {
		return nil, &DiscoveryError{Reason: "malformed reply: no models field"}
	}
	for i, m := range models {
		if m.ID == "" {
			return nil, &DiscoveryError{Reason: fmt.Sprintf("malformed reply: model %d has no id", i)}
		}
	}

	c.modelsMu.Lock()
	c.models = models
	c.modelsMu.Unlock()

	c.log.Debug("models discovered", "count", len(models))
	return models, nil
}

// CreateSession validates cfg, opens a session in the subprocess and waits
// for it to be acknowledged. Invalid configs fail with *InvalidConfigError
// before anything is written.
func (c *Client) CreateSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !c.started || c.stopping {
		c.mu.Unlock()
		return nil, ErrNotStarted
	}
	sessionID := uuid.NewString()
	s := newSession(sessionID, cfg, c.writer, c.log.With("sessionID", sessionID), c.removeSession)
	c.sessions[sessionID] = s
	w := c.writer
	c.mu.Unlock()

	requestID := uuid.NewString()
	p, err := c.control.add(requestID, c.opts.DiscoveryTimeout)
	if err != nil {
		s.Destroy()
		return nil, err
	}

	frame := sessionCreateFrame{
		Type:      frameSessionCreate,
		RequestID: requestID,
		SessionID: sessionID,
		Model:     cfg.Model,
		Provider:  cfg.Provider,
	}
	if err := writeFrame(w, frame); err != nil {
		p.fail(err)
		s.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if _, err := p.Wait(ctx); err != nil {
		s.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.log.Info("session created", "sessionID", sessionID, "model", cfg.Model, "customProvider", cfg.Provider != nil)
	return s, nil
}

func (c *Client) removeSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Sessions returns the live sessions.
func (c *Client) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionList()
}

// sessionList snapshots the sessions. Caller must hold mu.
func (c *Client) sessionList() []*Session {
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// State returns the subprocess state.
func (c *Client) State() ProcessState {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return StateNotStarted
	}
	return ch.State()
}

func (c *Client) activeWriter() (frameWriter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopping {
		return nil, ErrNotStarted
	}
	return c.writer, nil
}

// Stop shuts down gracefully: outstanding requests time out, sessions are
// destroyed, the subprocess is asked to exit and given the grace period to
// do so. On failure it returns *ShutdownError and leaves the process to
// ForceStop. Stopping a Client that never started is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	ch := c.channel
	w := c.writer
	loopDone := c.loopDone
	sessions := c.sessionList()
	c.mu.Unlock()

	c.log.Debug("stopping client", "sessions", len(sessions))

	var errs []error
	flushErr := fmt.Errorf("client stopping: %w", ErrTimeout)
	c.control.expireAll(flushErr)

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			s.expirePending(flushErr)
			return s.Destroy()
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := writeFrame(w, shutdownFrame{Type: frameShutdown}); err != nil && !errors.Is(err, ErrChannelClosed) {
		errs = append(errs, fmt.Errorf("failed to send shutdown: %w", err))
	}

	if err := ch.Stop(ctx); err != nil {
		errs = append(errs, err)
	} else {
		select {
		case <-loopDone:
		case <-time.After(c.opts.GracePeriod):
			errs = append(errs, fmt.Errorf("read loop still running: %w", ErrShutdownTimeout))
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	if len(errs) > 0 {
		c.log.Warn("graceful shutdown failed", "errors", len(errs))
		return &ShutdownError{Errs: errs}
	}
	c.log.Info("client stopped")
	return nil
}

// ForceStop kills the subprocess. It is safe to call at any time, any number
// of times, and never fails.
func (c *Client) ForceStop() {
	c.mu.Lock()
	ch := c.channel
	if ch == nil {
		// Never started; Start stays usable.
		c.mu.Unlock()
		return
	}
	c.stopping = true
	sessions := c.sessionList()
	c.mu.Unlock()

	ch.ForceStop()

	killErr := fmt.Errorf("client force-stopped: %w", ErrChannelClosed)
	c.control.expireAll(killErr)
	for _, s := range sessions {
		s.expirePending(killErr)
		if err := s.Destroy(); err != nil {
			c.log.Debug("destroy after force stop", "sessionID", s.ID(), "error", err)
		}
	}
	c.log.Info("client force-stopped")
}

// frameMirror copies frames to a log writer.
type frameMirror struct {
	next frameWriter

	mu  sync.Mutex
	out io.Writer
}

func (m *frameMirror) Write(frame []byte) error {
	err := m.next.Write(frame)
	m.record(">", frame)
	return err
}

func (m *frameMirror) inbound(frames iter.Seq[[]byte]) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for f := range frames {
			m.record("<", f)
			if !yield(f) {
				return
			}
		}
	}
}

func (m *frameMirror) record(dir string, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.out, "%s %s\n", dir, frame)
}

var (
	_ frameWriter = (*ProcessChannel)(nil)
	_ frameWriter = (*frameMirror)(nil)
)
