package copilot

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RequestState is the lifecycle state of a PendingRequest.
type RequestState int

const (
	RequestPending RequestState = iota
	RequestResolved
	RequestTimedOut
)

func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestResolved:
		return "resolved"
	case RequestTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("RequestState(%d)", int(s))
	}
}

// PendingRequest correlates an outbound frame with its eventual reply.
// It leaves the Pending state exactly once; later resolutions are ignored.
type PendingRequest struct {
	ID        string
	CreatedAt time.Time
	Timeout   time.Duration

	mu     sync.Mutex
	state  RequestState
	latest *Event // last assistant.message seen for this request
	result *Event
	err    error
	done   chan struct{}
	timer  *time.Timer
	onDone func(id string)
}

// Done is closed once the request reaches a terminal state.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// State returns the current state.
func (p *PendingRequest) State() RequestState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (p *PendingRequest) Result() (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

// Wait blocks until the request is resolved, times out, or ctx ends.
// Abandoning the wait through ctx marks the request TimedOut.
func (p *PendingRequest) Wait(ctx context.Context) (*Event, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.finish(RequestTimedOut, nil, fmt.Errorf("request %s abandoned: %w", p.ID, ctx.Err()))
	}
	return p.Result()
}

// record remembers the latest reply for the request without resolving it.
func (p *PendingRequest) record(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == RequestPending {
		p.latest = &ev
	}
}

// complete resolves the request with the latest recorded reply, or with ev
// when the turn produced none.
func (p *PendingRequest) complete(ev Event) bool {
	p.mu.Lock()
	result := p.latest
	p.mu.Unlock()
	if result == nil {
		result = &ev
	}
	return p.finish(RequestResolved, result, nil)
}

func (p *PendingRequest) fail(err error) bool {
	return p.finish(RequestResolved, nil, err)
}

func (p *PendingRequest) expire(err error) bool {
	return p.finish(RequestTimedOut, nil, err)
}

// finish moves the request to a terminal state. It reports whether this call
// made the transition.
func (p *PendingRequest) finish(state RequestState, result *Event, err error) bool {
	p.mu.Lock()
	if p.state != RequestPending {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.result = result
	p.err = err
	p.latest = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	close(p.done)
	onDone := p.onDone
	p.mu.Unlock()

	if onDone != nil {
		onDone(p.ID)
	}
	return true
}

// pendingTable maps request ids to outstanding requests. Entries remove
// themselves when they reach a terminal state.
type pendingTable struct {
	mu     sync.Mutex
	reqs   map[string]*PendingRequest
	closed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{reqs: make(map[string]*PendingRequest)}
}

// add registers a new request. A positive timeout arms a timer that expires
// the request even if nobody is waiting on it.
func (t *pendingTable) add(id string, timeout time.Duration) (*PendingRequest, error) {
	p := &PendingRequest{
		ID:        id,
		CreatedAt: time.Now(),
		Timeout:   timeout,
		done:      make(chan struct{}),
		onDone:    t.remove,
	}

	t.mu.Lock()
	if t.closed != nil {
		t.mu.Unlock()
		return nil, t.closed
	}
	if _, exists := t.reqs[id]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("duplicate request id %s", id)
	}
	t.reqs[id] = p
	t.mu.Unlock()

	if timeout > 0 {
		p.mu.Lock()
		p.timer = time.AfterFunc(timeout, func() {
			p.expire(fmt.Errorf("request %s after %s: %w", id, timeout, ErrTimeout))
		})
		p.mu.Unlock()
	}
	return p, nil
}

func (t *pendingTable) get(id string) (*PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.reqs[id]
	return p, ok
}

func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.reqs, id)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}

// expireAll times out every outstanding request with err.
func (t *pendingTable) expireAll(err error) int {
	return t.drain(func(p *PendingRequest) bool { return p.expire(err) })
}

// close fails every outstanding request with err and rejects new ones.
func (t *pendingTable) close(err error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	t.mu.Unlock()
	return t.drain(func(p *PendingRequest) bool { return p.fail(err) })
}

func (t *pendingTable) drain(fn func(*PendingRequest) bool) int {
	t.mu.Lock()
	snapshot := make([]*PendingRequest, 0, len(t.reqs))
	for _, p := range t.reqs {
		snapshot = append(snapshot, p)
	}
	t.mu.Unlock()

	n := 0
	for _, p := range snapshot {
		if fn(p) {
			n++
		}
	}
	return n
}
