package copilot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ProcessState is the lifecycle state of the subprocess.
type ProcessState int

const (
	StateNotStarted ProcessState = iota
	StateRunning
	StateStopping
	StateExited
)

func (s ProcessState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// DefaultGracePeriod is how long Stop waits for the process to exit on its own.
const DefaultGracePeriod = 5 * time.Second

const (
	// maxStderrCapture bounds the stderr kept in memory.
	maxStderrCapture = 64 * 1024
	// reapWait bounds how long ForceStop waits for the killed process to be reaped.
	reapWait = 2 * time.Second
)

// ChannelConfig describes the subprocess to launch.
type ChannelConfig struct {
	Path        string
	Args        []string
	Env         []string // appended to the current environment
	Dir         string
	GracePeriod time.Duration
}

// ProcessChannel owns one subprocess and its stdio. Frames are newline
// delimited in both directions.
type ProcessChannel struct {
	config ChannelConfig
	log    *slog.Logger

	mu          sync.Mutex
	state       ProcessState
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      *os.File
	stderr      *stderrCapture
	exitErr     error
	killed      bool
	framesTaken bool

	// done is closed by monitorExit once cmd.Wait() returns. monitorExit is the
	// sole caller of cmd.Wait(); everything else selects on done.
	done chan struct{}

	// writeMu keeps concurrent frames from interleaving on stdin.
	writeMu sync.Mutex
}

// NewProcessChannel creates a channel. Nothing is spawned until Start.
func NewProcessChannel(config ChannelConfig, log *slog.Logger) *ProcessChannel {
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultGracePeriod
	}
	return &ProcessChannel{
		config: config,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start spawns the subprocess. It returns *SpawnError when the executable is
// missing or the OS refuses to launch it, and ErrAlreadyStarted on reuse.
func (pc *ProcessChannel) Start(ctx context.Context) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.state != StateNotStarted {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := exec.LookPath(pc.config.Path)
	if err != nil {
		pc.log.Error("executable not found", "path", pc.config.Path, "error", err)
		return &SpawnError{Path: pc.config.Path, Err: fmt.Errorf("%w: %w", errExecutableNotFound, err)}
	}

	pc.log.Debug("starting process", "command", path+" "+strings.Join(pc.config.Args, " "))
	startTime := time.Now()

	cmd := exec.Command(path, pc.config.Args...)
	cmd.Dir = pc.config.Dir
	if len(pc.config.Env) > 0 {
		cmd.Env = append(os.Environ(), pc.config.Env...)
	}
	// Bounds how long Wait lingers on stdio held open by orphaned grandchildren.
	cmd.WaitDelay = pc.config.GracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Path: path, Err: fmt.Errorf("failed to get stdin pipe: %w", err)}
	}

	// A pipe we own, rather than StdoutPipe, so that cmd.Wait never closes the
	// read side underneath the frame reader and trailing output is not lost.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return &SpawnError{Path: path, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	cmd.Stdout = stdoutW

	stderr := newStderrCapture(pc.log)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		pc.log.Error("failed to start process", "error", err)
		return &SpawnError{Path: path, Err: err}
	}
	// The child holds its own copy of the write end.
	stdoutW.Close()

	pc.cmd = cmd
	pc.stdin = stdin
	pc.stdout = stdoutR
	pc.stderr = stderr
	pc.state = StateRunning

	pc.log.Info("process started", "elapsed", time.Since(startTime), "pid", cmd.Process.Pid)

	go pc.monitorExit(cmd, pc.done)
	return nil
}

// monitorExit waits for the process to exit and records the outcome.
func (pc *ProcessChannel) monitorExit(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	pc.mu.Lock()
	pc.exitErr = err
	pc.state = StateExited
	stderr := pc.stderr
	pc.mu.Unlock()

	if stderr != nil {
		stderr.flush()
	}
	if err != nil {
		pc.log.Debug("process exited", "error", err)
	} else {
		pc.log.Debug("process exited cleanly")
	}
	close(done)
}

// Frames returns the lines the subprocess writes to stdout, without their
// trailing newline. The sequence ends when the stream closes. It can be
// consumed once; later ranges yield nothing.
func (pc *ProcessChannel) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		pc.mu.Lock()
		r := pc.stdout
		if r == nil || pc.framesTaken {
			pc.mu.Unlock()
			return
		}
		pc.framesTaken = true
		pc.mu.Unlock()

		defer pc.closeStdout()

		reader := bufio.NewReaderSize(r, 64*1024)
		for {
			line, err := reader.ReadBytes('\n')
			if line = bytes.TrimRight(line, "\r\n"); len(line) > 0 {
				if !yield(line) {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
					pc.log.Debug("EOF on stdout")
				} else {
					pc.log.Debug("error reading stdout", "error", err)
				}
				return
			}
		}
	}
}

func (pc *ProcessChannel) closeStdout() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.stdout != nil {
		pc.stdout.Close()
		pc.stdout = nil
	}
}

// Write sends one frame followed by a newline. It returns an error wrapping
// ErrChannelClosed unless the process is running.
func (pc *ProcessChannel) Write(frame []byte) error {
	pc.mu.Lock()
	stdin := pc.stdin
	state := pc.state
	pc.mu.Unlock()

	if state != StateRunning || stdin == nil {
		return ErrChannelClosed
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	if _, err := stdin.Write(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return nil
}

// Stop closes stdin and waits up to the grace period for the process to exit.
// It never kills; on timeout it returns an error wrapping ErrShutdownTimeout
// and the caller decides whether to ForceStop.
func (pc *ProcessChannel) Stop(ctx context.Context) error {
	pc.mu.Lock()
	switch pc.state {
	case StateNotStarted, StateExited:
		pc.mu.Unlock()
		return nil
	case StateRunning:
		pc.log.Debug("stopping process")
		pc.state = StateStopping
	}
	if pc.stdin != nil {
		pc.stdin.Close()
		pc.stdin = nil
	}
	done := pc.done
	grace := pc.config.GracePeriod
	pc.mu.Unlock()

	select {
	case <-done:
		pc.log.Debug("process exited gracefully")
		return nil
	case <-time.After(grace):
		pc.log.Warn("process did not exit within grace period", "grace", grace)
		return fmt.Errorf("process still running after %s: %w", grace, ErrShutdownTimeout)
	case <-ctx.Done():
		return fmt.Errorf("stop interrupted: %w", ctx.Err())
	}
}

// ForceStop kills the process and closes its pipes. It is a no-op when the
// channel was never started or was already force-stopped.
func (pc *ProcessChannel) ForceStop() {
	pc.mu.Lock()
	if pc.state == StateNotStarted || pc.killed {
		pc.mu.Unlock()
		return
	}
	pc.killed = true
	if pc.state == StateRunning {
		pc.state = StateStopping
	}
	if pc.stdin != nil {
		pc.stdin.Close()
		pc.stdin = nil
	}
	if pc.cmd != nil && pc.cmd.Process != nil {
		pc.log.Debug("force killing process", "pid", pc.cmd.Process.Pid)
		if err := pc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			pc.log.Debug("kill failed", "error", err)
		}
	}
	if pc.stdout != nil {
		pc.stdout.Close()
		pc.stdout = nil
	}
	done := pc.done
	pc.mu.Unlock()

	select {
	case <-done:
	case <-time.After(reapWait):
		pc.log.Warn("killed process not reaped in time")
	}
}

// State returns the current process state.
func (pc *ProcessChannel) State() ProcessState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// Done is closed once the process has exited. It never closes if Start was not called.
func (pc *ProcessChannel) Done() <-chan struct{} {
	return pc.done
}

// ExitErr returns the error from cmd.Wait once the process has exited.
func (pc *ProcessChannel) ExitErr() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.exitErr
}

// Stderr returns the captured stderr output.
func (pc *ProcessChannel) Stderr() string {
	pc.mu.Lock()
	stderr := pc.stderr
	pc.mu.Unlock()
	if stderr == nil {
		return ""
	}
	return stderr.String()
}

// stderrCapture logs stderr line by line and keeps a bounded copy.
type stderrCapture struct {
	log *slog.Logger

	mu      sync.Mutex
	buf     bytes.Buffer
	partial []byte
}

func newStderrCapture(log *slog.Logger) *stderrCapture {
	return &stderrCapture{log: log}
}

func (s *stderrCapture) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room := maxStderrCapture - s.buf.Len(); room > 0 {
		s.buf.Write(p[:min(len(p), room)])
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		s.log.Debug("process stderr", "line", truncateForLog(string(s.partial[:i])))
		s.partial = s.partial[i+1:]
	}
	if len(s.partial) > maxStderrCapture {
		s.log.Debug("process stderr", "line", truncateForLog(string(s.partial)))
		s.partial = nil
	}
	return len(p), nil
}

// flush logs a trailing line that had no newline.
func (s *stderrCapture) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.partial) > 0 {
		s.log.Debug("process stderr", "line", truncateForLog(string(s.partial)))
		s.partial = nil
	}
}

func (s *stderrCapture) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.buf.String())
}
