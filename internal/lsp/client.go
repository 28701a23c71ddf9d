package lsp

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientConfig contains configuration for the LSP client.
type ClientConfig struct {
	// Server describes the language server process.
	Server ProcessConfig

	// LanguageID overrides detection from the file extension.
	LanguageID string

	// ShutdownTimeout bounds the wait for the shutdown response and for the
	// process to exit before it is killed.
	ShutdownTimeout time.Duration

	// MaxPending bounds the pending-request table.
	MaxPending int

	// EventBuffer is the capacity of each outbound event channel.
	EventBuffer int

	// DropStaleCompletions discards completion results requested against an
	// older document version than the current one.
	DropStaleCompletions bool

	// InitializationOptions are sent verbatim in the initialize request.
	InitializationOptions any

	// Stderr receives the server's diagnostic stream verbatim.
	Stderr io.Writer
}

// DefaultClientConfig returns a default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ShutdownTimeout:      2 * time.Second,
		MaxPending:           DefaultMaxPending,
		EventBuffer:          16,
		DropStaleCompletions: true,
	}
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithClientConfig sets the full client configuration.
func WithClientConfig(config ClientConfig) ClientOption {
	return func(c *Client) {
		c.config = config
	}
}

// WithServer sets the language server command.
func WithServer(command string, args ...string) ClientOption {
	return func(c *Client) {
		c.config.Server.Command = command
		c.config.Server.Args = args
	}
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.config.ShutdownTimeout = d
	}
}

// WithStaleCompletions keeps completion results for outdated versions.
func WithStaleCompletions() ClientOption {
	return func(c *Client) {
		c.config.DropStaleCompletions = false
	}
}

// WithStderr forwards the server's stderr lines to w.
func WithStderr(w io.Writer) ClientOption {
	return func(c *Client) {
		c.config.Stderr = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is the surface the editor talks to. It owns at most one Session,
// bound to one document within one server process.
//
// Results are delivered on four channels. They are written only by the
// session's event loop, never block it (a full channel drops the event) and
// are closed once the server process has ended.
type Client struct {
	mu      sync.Mutex
	config  ClientConfig
	logger  *slog.Logger
	id      string
	session *Session
	closed  bool

	dial func(ProcessConfig, *slog.Logger) (conn, error)

	completions chan CompletionResult
	diagnostics chan DiagnosticsResult
	errs        chan error
	terminated  chan Termination
	closeChans  sync.Once
}

// NewClient creates a client. No process is started until Open.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		config: DefaultClientConfig(),
		id:     uuid.NewString(),
		dial: func(cfg ProcessConfig, logger *slog.Logger) (conn, error) {
			t, err := StartTransport(cfg, logger)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.logger = c.logger.With("session", c.id)
	if c.config.EventBuffer <= 0 {
		c.config.EventBuffer = 16
	}

	c.completions = make(chan CompletionResult, c.config.EventBuffer)
	c.diagnostics = make(chan DiagnosticsResult, c.config.EventBuffer)
	c.errs = make(chan error, c.config.EventBuffer)
	c.terminated = make(chan Termination, 1)
	return c
}

// Open launches the server with root as workspace and opens file with
// content at version 1. It returns once initialize and didOpen are queued.
func (c *Client) Open(root, file, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.session != nil {
		return ErrAlreadyOpen
	}

	proc := c.config.Server
	if proc.WorkDir == "" {
		proc.WorkDir = root
	}
	t, err := c.dial(proc, c.logger.With("component", "transport"))
	if err != nil {
		return err
	}

	s := newSession(t, SessionConfig{
		Root:                  root,
		File:                  file,
		Content:               content,
		LanguageID:            c.config.LanguageID,
		ClientInfo:            ClientInfo{Name: "keylsp", Version: Version},
		InitializationOptions: c.config.InitializationOptions,
		ShutdownTimeout:       c.config.ShutdownTimeout,
		MaxPending:            c.config.MaxPending,
		DropStaleCompletions:  c.config.DropStaleCompletions,
		Stderr:                c.config.Stderr,
	}, c, c.logger.With("component", "session"))

	if err := s.start(); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout)
		defer cancel()
		_ = t.Close(ctx)
		<-s.Done()
		// The aborted session reported its own exit; a later Open must not
		// inherit it.
		c.drainChannels()
		return err
	}

	c.session = s
	go func() {
		<-s.Done()
		c.closeChannels()
	}()
	return nil
}

// ContentChanged sends the full new content with the next document version.
func (c *Client) ContentChanged(content string) error {
	return c.ContentChangedAt(content, Position{})
}

// ContentChangedAt is ContentChanged with the last known cursor position.
func (c *Client) ContentChangedAt(content string, cursor Position) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.ChangeContent(content, cursor)
}

// RequestCompletion asks for completions at a 0-based line and column. The
// result is delivered on Completions, tagged with the returned id.
func (c *Client) RequestCompletion(line, col int) (ID, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	return s.RequestCompletion(Position{Line: line, Character: col})
}

// Close shuts the session down. It is idempotent and a no-op after a crash.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	s := c.session
	c.mu.Unlock()

	if s == nil {
		c.closeChannels()
		return nil
	}
	return s.Close(ctx)
}

func (c *Client) current() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		if c.closed {
			return nil, ErrClosed
		}
		return nil, ErrNotOpen
	}
	return c.session, nil
}

// Completions delivers completion results.
func (c *Client) Completions() <-chan CompletionResult { return c.completions }

// Diagnostics delivers diagnostic sets, each replacing the previous one.
func (c *Client) Diagnostics() <-chan DiagnosticsResult { return c.diagnostics }

// Errors delivers non-fatal server errors and, on a crash, the
// *ServerTerminatedError.
func (c *Client) Errors() <-chan error { return c.errs }

// Terminated receives exactly one value when the server process ends.
func (c *Client) Terminated() <-chan Termination { return c.terminated }

// SessionID identifies this client in logs.
func (c *Client) SessionID() string { return c.id }

// State returns the session state, StateUninitialized before Open.
func (c *Client) State() State {
	s, err := c.current()
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return StateClosed
		}
		return StateUninitialized
	}
	return s.State()
}

// Version returns the current document version, 0 before Open.
func (c *Client) Version() int {
	s, err := c.current()
	if err != nil {
		return 0
	}
	return s.Document().Version
}

// Session returns the underlying session, or nil before Open.
func (c *Client) Session() *Session {
	s, _ := c.current()
	return s
}

func (c *Client) closeChannels() {
	c.closeChans.Do(func() {
		close(c.completions)
		close(c.diagnostics)
		close(c.errs)
		close(c.terminated)
	})
}

// drainChannels discards anything buffered on the result channels.
func (c *Client) drainChannels() {
	for {
		select {
		case <-c.completions:
		case <-c.diagnostics:
		case <-c.errs:
		case <-c.terminated:
		default:
			return
		}
	}
}

func (c *Client) completionReady(r CompletionResult) {
	select {
	case c.completions <- r:
	default:
		c.logger.Warn("completion channel full, dropping result", "id", r.RequestID)
	}
}

func (c *Client) diagnosticsReady(r DiagnosticsResult) {
	select {
	case c.diagnostics <- r:
	default:
		c.logger.Warn("diagnostics channel full, dropping set", "uri", r.URI, "count", len(r.Items))
	}
}

func (c *Client) serverError(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("error channel full, dropping error", "error", err)
	}
}

func (c *Client) serverTerminated(t Termination) {
	select {
	case c.terminated <- t:
	default:
	}
}
