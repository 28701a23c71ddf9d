package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// maxFrameSize bounds a single inbound message.
const maxFrameSize = 64 << 20

// ProcessConfig describes how to launch a language server.
type ProcessConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory (defaults to the workspace root).
	WorkDir string
}

// ServerProcess is a snapshot of the supervised process.
type ServerProcess struct {
	Path     string
	WorkDir  string
	PID      int
	Alive    bool
	ExitCode int
}

// Event is one item of the transport's inbound sequence.
// It is one of FrameEvent, StderrEvent or ExitEvent.
type Event interface {
	transportEvent()
}

// FrameEvent carries one complete message read from the server's stdout.
type FrameEvent struct {
	Payload []byte
}

// StderrEvent carries one line the server wrote to its diagnostic stream.
type StderrEvent struct {
	Line string
}

// ExitEvent reports process termination. It is always the final event.
type ExitEvent struct {
	Code int
	Err  error
}

func (FrameEvent) transportEvent()  {}
func (StderrEvent) transportEvent() {}
func (ExitEvent) transportEvent()   {}

// Transport owns the server process and the LSP base-protocol framing.
// It has no knowledge of JSON-RPC semantics.
type Transport struct {
	logger *slog.Logger

	path    string
	workDir string
	pid     int

	reader *bufio.Reader
	stdin  io.WriteCloser
	stderr io.Reader
	kill   func() error

	// Outbound frames are queued and written by a single writer goroutine so
	// Send never blocks on a full pipe.
	queueMu    sync.Mutex
	queue      [][]byte
	wake       chan struct{}
	closing    chan struct{}
	writerDone chan struct{}
	writeErr   atomic.Pointer[error]

	exited   atomic.Bool
	exitCode atomic.Int64

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// StartTransport spawns the language server and begins pumping its output.
// The returned transport's Events channel must be drained until it is closed.
func StartTransport(cfg ProcessConfig, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Command == "" {
		return nil, &ProcessLaunchError{Err: errors.New("no command configured")}
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, &ProcessLaunchError{Path: cfg.Command, Err: err}
	}

	cmd := exec.Command(path, cfg.Args...) //nolint:gosec // command comes from trusted config
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessLaunchError{Path: path, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &ProcessLaunchError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &ProcessLaunchError{Path: path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, &ProcessLaunchError{Path: path, Err: err}
	}

	t := newTransport(stdin, stdout, stderr, logger)
	t.path = path
	t.workDir = cfg.WorkDir
	t.pid = cmd.Process.Pid
	t.kill = cmd.Process.Kill

	logger.Info("language server started", "path", path, "pid", t.pid, "workdir", cfg.WorkDir)

	go t.run(func() (int, error) {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		if err != nil {
			return -1, err
		}
		return cmd.ProcessState.ExitCode(), nil
	})

	return t, nil
}

// newTransport wires a transport over arbitrary streams. The caller starts run.
func newTransport(stdin io.WriteCloser, stdout io.Reader, stderr io.Reader, logger *slog.Logger) *Transport {
	return &Transport{
		logger:     logger,
		reader:     bufio.NewReaderSize(stdout, 64*1024),
		stdin:      stdin,
		stderr:     stderr,
		wake:       make(chan struct{}, 1),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
	}
}

// Events returns the ordered inbound sequence. It is closed after the ExitEvent.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Done is closed once the process has been reaped.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Exited reports whether the process has terminated.
func (t *Transport) Exited() bool {
	return t.exited.Load()
}

// PID returns the server's process id, or 0 for stream transports.
func (t *Transport) PID() int {
	return t.pid
}

// Process returns a snapshot of the server process.
func (t *Transport) Process() ServerProcess {
	return ServerProcess{
		Path:     t.path,
		WorkDir:  t.workDir,
		PID:      t.pid,
		Alive:    !t.exited.Load(),
		ExitCode: int(t.exitCode.Load()),
	}
}

// Send queues one framed message for writing and returns immediately. Frames
// reach the server in the order Send was called.
func (t *Transport) Send(payload []byte) error {
	if errp := t.writeErr.Load(); errp != nil {
		return &TransportWriteError{Err: *errp}
	}
	if t.exited.Load() {
		return &TransportWriteError{}
	}

	buf := make([]byte, 0, len(payload)+32)
	buf = append(buf, "Content-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, payload...)

	t.queueMu.Lock()
	select {
	case <-t.closing:
		t.queueMu.Unlock()
		return &TransportWriteError{Err: os.ErrClosed}
	default:
	}
	t.queue = append(t.queue, buf)
	t.queueMu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close flushes queued frames, closes the server's stdin and waits for the
// process to exit. If ctx ends first the process is killed.
func (t *Transport) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.queueMu.Lock()
		close(t.closing)
		t.queueMu.Unlock()

		select {
		case <-t.done:
			return
		case <-ctx.Done():
		}

		t.logger.Warn("language server did not exit, killing", "pid", t.pid)
		if t.kill != nil {
			if kerr := t.kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = kerr
			}
		}
		<-t.done
	})
	return err
}

func (t *Transport) writeLoop() {
	defer close(t.writerDone)
	for {
		select {
		case <-t.wake:
			t.flush()
		case <-t.closing:
			t.flush()
			if err := t.stdin.Close(); err != nil && !isStreamClosed(err) {
				t.logger.Debug("closing server stdin", "error", err)
			}
			return
		}
	}
}

// flush writes every queued frame. After the first write error the remaining
// frames are discarded and Send starts failing.
func (t *Transport) flush() {
	for {
		t.queueMu.Lock()
		batch := t.queue
		t.queue = nil
		t.queueMu.Unlock()
		if len(batch) == 0 {
			return
		}
		if t.writeErr.Load() != nil {
			continue
		}
		for _, frame := range batch {
			if _, err := t.stdin.Write(frame); err != nil {
				t.writeErr.Store(&err)
				t.logger.Warn("write to language server failed", "error", err)
				break
			}
		}
	}
}

// run pumps stdout and stderr, then reaps the process and emits the ExitEvent.
func (t *Transport) run(wait func() (int, error)) {
	go t.writeLoop()

	var g errgroup.Group
	g.Go(t.pumpFrames)
	if t.stderr != nil {
		g.Go(t.pumpStderr)
	}
	readErr := g.Wait()

	code, err := wait()
	if err == nil && readErr != nil {
		err = readErr
	}

	t.exitCode.Store(int64(code))
	t.exited.Store(true)
	t.logger.Info("language server exited", "pid", t.pid, "code", code)

	t.events <- ExitEvent{Code: code, Err: err}
	close(t.events)
	close(t.done)
}

func (t *Transport) pumpFrames() error {
	for {
		payload, err := readFrame(t.reader)
		if err != nil {
			if isStreamClosed(err) {
				return nil
			}
			var pv *ProtocolViolationError
			if errors.As(err, &pv) {
				t.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			t.logger.Error("inbound stream unreadable", "error", err)
			// Keep the pipe drained so the server never blocks on a full stdout.
			_, _ = io.Copy(io.Discard, t.reader)
			return fmt.Errorf("read frame: %w", err)
		}
		t.events <- FrameEvent{Payload: payload}
	}
}

func (t *Transport) pumpStderr() error {
	r := bufio.NewReader(t.stderr)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			t.events <- StderrEvent{Line: strings.TrimRight(line, "\r\n")}
		}
		if err != nil {
			if !isStreamClosed(err) {
				t.logger.Debug("stderr stream unreadable", "error", err)
				// Keep the pipe drained so the server never blocks writing stderr.
				_, _ = io.Copy(io.Discard, t.stderr)
			}
			return nil
		}
	}
}

// readFrame reads one Content-Length framed payload.
func readFrame(r *bufio.Reader) ([]byte, error) {
	return readFrameLimit(r, maxFrameSize)
}

// readFrameLimit reads one frame of at most limit bytes. A frame with bad
// headers or an oversize body is consumed whole and reported as a
// *ProtocolViolationError, leaving r at the start of the next frame.
func readFrameLimit(r *bufio.Reader, limit int) ([]byte, error) {
	contentLength := -1
	headers := 0
	var violation *ProtocolViolationError
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && (line != "" || headers > 0) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if headers == 0 {
				// Stray blank line between frames.
				continue
			}
			break
		}
		headers++
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			if violation == nil {
				violation = &ProtocolViolationError{Reason: fmt.Sprintf("malformed header %q", line)}
			}
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				if violation == nil {
					violation = &ProtocolViolationError{Reason: "bad Content-Length", Err: err}
				}
				continue
			}
			contentLength = n
		}
		// Content-Type and unknown headers are ignored.
	}

	if contentLength < 0 {
		if violation != nil {
			return nil, violation
		}
		return nil, &ProtocolViolationError{Reason: "missing Content-Length header"}
	}
	if violation == nil && contentLength > limit {
		violation = &ProtocolViolationError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", contentLength, limit)}
	}
	if violation != nil {
		if _, err := io.CopyN(io.Discard, r, int64(contentLength)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("skip body (%d bytes): %w", contentLength, err)
		}
		return nil, violation
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body (%d bytes): %w", contentLength, err)
	}
	return body, nil
}

func isStreamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
