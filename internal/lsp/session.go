package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
	StateCrashed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateClosed:
		return "closed"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further messages may be sent in this state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateCrashed
}

// DocumentState is the session's view of the single managed document.
type DocumentState struct {
	URI        DocumentURI
	LanguageID string
	Version    int
	Content    string
	Cursor     Position
}

// CompletionResult is the ordered list of insertion strings for one request.
type CompletionResult struct {
	RequestID ID
	Version   int
	Items     []string
}

// DiagnosticItem is one diagnostic published by the server.
type DiagnosticItem struct {
	Severity DiagnosticSeverity
	Category string
	Message  string
	Range    Range
	Source   string
	Code     string
}

// DiagnosticsResult is the full replacement diagnostic set for a document.
// Version is 0 when the server did not tag the set.
type DiagnosticsResult struct {
	URI     DocumentURI
	Version int
	Items   []DiagnosticItem
}

// Termination reports the end of the server process. Err is nil after a
// requested close and a *ServerTerminatedError after a crash.
type Termination struct {
	ExitCode int
	Err      error
}

// Crashed reports whether the server died without being asked to.
func (t Termination) Crashed() bool {
	return t.Err != nil
}

// conn is the transport surface a session needs.
type conn interface {
	Sender
	Events() <-chan Event
	Close(ctx context.Context) error
}

// sink receives everything the session surfaces. All calls happen on the
// session's event-loop goroutine, in the order the server emitted the frames.
type sink interface {
	completionReady(CompletionResult)
	diagnosticsReady(DiagnosticsResult)
	serverError(error)
	serverTerminated(Termination)
}

// SessionConfig configures one session.
type SessionConfig struct {
	Root    string
	File    string
	Content string

	// LanguageID overrides detection from the file extension.
	LanguageID string

	ClientInfo            ClientInfo
	InitializationOptions any

	ShutdownTimeout      time.Duration
	MaxPending           int
	DropStaleCompletions bool

	// Stderr receives the server's diagnostic stream verbatim. When nil the
	// lines are logged at debug level.
	Stderr io.Writer
}

// Session speaks the LSP method vocabulary for one document over one server.
//
// Outbound operations and inbound handling are serialized by mu, which keeps
// request ids unique and document versions strictly increasing.
type Session struct {
	mu    sync.Mutex
	state State
	doc   DocumentState

	cfg       SessionConfig
	transport conn
	corr      *Correlator
	sink      sink
	logger    *slog.Logger
	stderrLog *slog.Logger

	serverInfo   *ServerInfo
	capabilities json.RawMessage

	shutdownAck  chan struct{}
	shutdownOnce sync.Once
	loopDone     chan struct{}
}

// newSession wires a session over an already started transport and starts its
// event loop. Call start to send initialize and didOpen.
func newSession(t conn, cfg SessionConfig, out sink, logger *slog.Logger) *Session {
	if cfg.LanguageID == "" {
		cfg.LanguageID = LanguageIDForPath(cfg.File)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	s := &Session{
		state: StateUninitialized,
		doc: DocumentState{
			URI:        FilePathToURI(cfg.File),
			LanguageID: cfg.LanguageID,
			Content:    cfg.Content,
		},
		cfg:         cfg,
		transport:   t,
		corr:        NewCorrelator(t, cfg.MaxPending, logger),
		sink:        out,
		logger:      logger,
		stderrLog:   logger.With("component", "server-stderr"),
		shutdownAck: make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// start sends initialize without waiting for its response, then opens the
// document at version 1.
func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return fmt.Errorf("session already started (%s)", s.state)
	}
	s.state = StateInitializing

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		ClientInfo:            &s.cfg.ClientInfo,
		RootURI:               FilePathToURI(s.cfg.Root),
		RootPath:              s.cfg.Root,
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: s.cfg.InitializationOptions,
	}
	if s.cfg.Root != "" {
		params.WorkspaceFolders = []WorkspaceFolder{WorkspaceFolderFromPath(s.cfg.Root)}
	}
	if s.cfg.ClientInfo.Name == "" {
		params.ClientInfo = nil
	}

	if _, err := s.corr.Call(MethodInitialize, params, ExpectInitialize, 0); err != nil {
		return err
	}

	s.doc.Version = 1
	err := s.corr.Notify(MethodDidOpen, DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        s.doc.URI,
			LanguageID: s.doc.LanguageID,
			Version:    s.doc.Version,
			Text:       s.doc.Content,
		},
	})
	if err != nil {
		return err
	}
	s.logger.Debug("document opened", "uri", s.doc.URI, "language", s.doc.LanguageID)
	return nil
}

// checkSendableLocked returns the error for sending in the current state.
func (s *Session) checkSendableLocked() error {
	switch s.state {
	case StateInitializing, StateReady:
		return nil
	case StateCrashed:
		return &TransportWriteError{}
	default:
		return ErrClosed
	}
}

// ChangeContent replaces the document content and sends a full-document
// didChange with the next version.
func (s *Session) ChangeContent(content string, cursor Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSendableLocked(); err != nil {
		return err
	}

	version := s.doc.Version + 1
	err := s.corr.Notify(MethodDidChange, DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: s.doc.URI},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: content}},
	})
	if err != nil {
		return err
	}

	s.doc.Version = version
	s.doc.Content = content
	s.doc.Cursor = cursor
	return nil
}

// RequestCompletion sends textDocument/completion at pos and returns the
// request id. The result arrives asynchronously.
func (s *Session) RequestCompletion(pos Position) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSendableLocked(); err != nil {
		return 0, err
	}

	params := CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: s.doc.URI},
			Position:     pos,
		},
		Context: &CompletionContext{TriggerKind: CompletionTriggerKindInvoked},
	}
	return s.corr.Call(MethodCompletion, params, ExpectCompletion, s.doc.Version)
}

// Close sends shutdown, waits for its response (bounded by ShutdownTimeout),
// then sends didClose and exit and tears the transport down. It is a no-op
// once the session has closed or crashed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateCrashed:
		s.mu.Unlock()
		return nil
	case StateShuttingDown:
		s.mu.Unlock()
		select {
		case <-s.loopDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = StateShuttingDown
	_, callErr := s.corr.Call(MethodShutdown, nil, ExpectShutdown, s.doc.Version)
	s.mu.Unlock()

	if callErr == nil {
		timer := time.NewTimer(s.cfg.ShutdownTimeout)
		select {
		case <-s.shutdownAck:
		case <-s.loopDone:
		case <-timer.C:
			s.logger.Warn("no shutdown response, continuing", "timeout", s.cfg.ShutdownTimeout)
		case <-ctx.Done():
		}
		timer.Stop()
	} else {
		s.logger.Debug("shutdown request not sent", "error", callErr)
	}

	s.mu.Lock()
	if err := s.corr.Notify(MethodDidClose, DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: s.doc.URI},
	}); err != nil {
		s.logger.Debug("didClose not sent", "error", err)
	}
	if err := s.corr.Notify(MethodExit, nil); err != nil {
		s.logger.Debug("exit not sent", "error", err)
	}
	if n := s.corr.Discard(); n > 0 {
		s.logger.Debug("discarded pending requests", "count", n)
	}
	s.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.transport.Close(closeCtx)

	select {
	case <-s.loopDone:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Document returns a copy of the document state.
func (s *Session) Document() DocumentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// ServerInfo returns what the server reported in its initialize response.
func (s *Session) ServerInfo() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// Capabilities returns the raw server capabilities, or nil before initialize
// has been answered.
func (s *Session) Capabilities() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// Done is closed when the event loop has consumed the transport's final event.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// loop drains the transport's events on a dedicated goroutine.
func (s *Session) loop() {
	defer close(s.loopDone)
	for ev := range s.transport.Events() {
		switch ev := ev.(type) {
		case FrameEvent:
			s.handleFrame(ev.Payload)
		case StderrEvent:
			s.handleStderr(ev.Line)
		case ExitEvent:
			s.handleExit(ev)
		}
	}
}

func (s *Session) handleFrame(payload []byte) {
	msg, err := s.corr.Route(payload)
	if err != nil {
		s.logger.Warn("dropping inbound frame", "error", err)
		return
	}
	switch m := msg.(type) {
	case *Response:
		s.handleResponse(m)
	case *Notification:
		s.handleNotification(m)
	case *ServerRequest:
		s.handleServerRequest(m)
	}
}

func (s *Session) handleResponse(r *Response) {
	req := r.Request
	switch req.Expect {
	case ExpectInitialize:
		s.handleInitialized(r)

	case ExpectCompletion:
		if r.Err != nil {
			s.sink.serverError(fmt.Errorf("completion request %d: %w", req.ID, r.Err))
			return
		}
		items, skipped, ok := decodeCompletionItems(r.Result)
		if !ok {
			s.logger.Warn("dropping response", "error",
				&UnrecognizedResponseShapeError{ID: req.ID, Method: req.Method, Expect: req.Expect})
			return
		}
		if skipped > 0 {
			s.logger.Warn("skipping completion items without text", "id", req.ID, "skipped", skipped)
		}
		s.mu.Lock()
		current := s.doc.Version
		s.mu.Unlock()
		if s.cfg.DropStaleCompletions && req.Version < current {
			s.logger.Debug("dropping stale completion", "id", req.ID, "requested_at", req.Version, "current", current)
			return
		}
		s.sink.completionReady(CompletionResult{RequestID: req.ID, Version: req.Version, Items: items})

	case ExpectShutdown:
		if r.Err != nil {
			s.logger.Warn("shutdown request failed", "error", r.Err)
		}
		s.shutdownOnce.Do(func() { close(s.shutdownAck) })

	default:
		s.logger.Debug("ignoring response", "id", req.ID, "method", req.Method)
	}
}

func (s *Session) handleInitialized(r *Response) {
	if r.Err != nil {
		s.sink.serverError(fmt.Errorf("initialize: %w", r.Err))
		return
	}

	var result InitializeResult
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &result); err != nil {
			s.logger.Warn("dropping response", "error",
				&UnrecognizedResponseShapeError{ID: r.Request.ID, Method: r.Request.Method, Expect: r.Request.Expect})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo
	if s.state != StateInitializing {
		return
	}
	s.state = StateReady
	if err := s.corr.Notify(MethodInitialized, InitializedParams{}); err != nil {
		s.logger.Warn("initialized notification not sent", "error", err)
	}
	if result.ServerInfo != nil {
		s.logger.Info("language server ready", "server", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	} else {
		s.logger.Info("language server ready")
	}
}

func (s *Session) handleNotification(n *Notification) {
	switch n.Method {
	case MethodPublishDiagnostics:
		result, err := decodeDiagnostics(n.Params)
		if err != nil {
			s.logger.Warn("dropping diagnostics", "error", err)
			return
		}
		s.mu.Lock()
		own := sameDocument(result.URI, s.doc.URI)
		s.mu.Unlock()
		if !own {
			s.logger.Debug("diagnostics for unmanaged document", "uri", result.URI)
			return
		}
		s.sink.diagnosticsReady(result)

	case MethodLogMessage, MethodShowMessage:
		p := gjson.ParseBytes(n.Params)
		msg := p.Get("message").String()
		switch MessageType(p.Get("type").Int()) {
		case MessageTypeError:
			s.logger.Error(msg, "source", n.Method)
		case MessageTypeWarning:
			s.logger.Warn(msg, "source", n.Method)
		case MessageTypeInfo:
			s.logger.Info(msg, "source", n.Method)
		default:
			s.logger.Debug(msg, "source", n.Method)
		}

	default:
		s.logger.Debug("ignoring notification", "method", n.Method)
	}
}

func (s *Session) handleServerRequest(r *ServerRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}

	var err error
	switch r.Method {
	case MethodWorkDoneProgress, MethodRegisterCapability, MethodUnregisterCap:
		err = s.corr.Reply(r.ID, nil)
	case MethodWorkspaceConfig:
		n := len(gjson.GetBytes(r.Params, "items").Array())
		err = s.corr.Reply(r.ID, make([]any, n))
	default:
		s.logger.Debug("rejecting server request", "method", r.Method)
		err = s.corr.ReplyError(r.ID, &RPCError{Code: CodeMethodNotFound, Message: "method not supported: " + r.Method})
	}
	if err != nil {
		s.logger.Warn("reply to server request failed", "method", r.Method, "error", err)
	}
}

func (s *Session) handleStderr(line string) {
	if s.cfg.Stderr != nil {
		fmt.Fprintln(s.cfg.Stderr, line)
		return
	}
	s.stderrLog.Debug(line)
}

func (s *Session) handleExit(ev ExitEvent) {
	s.mu.Lock()
	crashed := s.state != StateShuttingDown && s.state != StateClosed
	if crashed {
		s.state = StateCrashed
	} else {
		s.state = StateClosed
	}
	dropped := s.corr.Discard()
	s.mu.Unlock()

	// Releases the transport's writer; the process is already gone.
	_ = s.transport.Close(context.Background())
	s.shutdownOnce.Do(func() { close(s.shutdownAck) })

	if !crashed {
		s.sink.serverTerminated(Termination{ExitCode: ev.Code})
		return
	}

	err := &ServerTerminatedError{ExitCode: ev.Code, Err: ev.Err}
	s.logger.Error("language server crashed", "code", ev.Code, "abandoned_requests", dropped, "error", ev.Err)
	s.sink.serverError(err)
	s.sink.serverTerminated(Termination{ExitCode: ev.Code, Err: err})
}

// decodeCompletionItems extracts insertion strings from a CompletionList, a
// bare CompletionItem array or null. Items with no usable text are skipped and
// counted. The bool is false for any other shape.
func decodeCompletionItems(result []byte) (items []string, skipped int, ok bool) {
	if len(result) == 0 {
		return []string{}, 0, true
	}
	if !gjson.ValidBytes(result) {
		return nil, 0, false
	}

	r := gjson.ParseBytes(result)
	var list gjson.Result
	switch {
	case r.Type == gjson.Null:
		return []string{}, 0, true
	case r.IsArray():
		list = r
	case r.IsObject() && r.Get("items").IsArray():
		list = r.Get("items")
	default:
		return nil, 0, false
	}

	items = make([]string, 0, len(list.Array()))
	list.ForEach(func(_, item gjson.Result) bool {
		if text, found := insertText(item); found {
			items = append(items, text)
		} else {
			skipped++
		}
		return true
	})
	return items, skipped, true
}

// insertText follows the LSP fallback order: insertText, textEdit.newText, label.
func insertText(item gjson.Result) (string, bool) {
	if !item.IsObject() {
		return "", false
	}
	for _, path := range []string{"insertText", "textEdit.newText", "label"} {
		if v := item.Get(path); v.Type == gjson.String {
			return v.Str, true
		}
	}
	return "", false
}

// decodeDiagnostics parses publishDiagnostics params.
func decodeDiagnostics(params []byte) (DiagnosticsResult, error) {
	if !gjson.ValidBytes(params) {
		return DiagnosticsResult{}, &ProtocolViolationError{Reason: "publishDiagnostics params are not JSON", Frame: params}
	}
	p := gjson.ParseBytes(params)
	uri := p.Get("uri")
	if uri.Type != gjson.String {
		return DiagnosticsResult{}, &ProtocolViolationError{Reason: "publishDiagnostics without uri", Frame: params}
	}
	list := p.Get("diagnostics")
	if !list.IsArray() {
		return DiagnosticsResult{}, &ProtocolViolationError{Reason: "publishDiagnostics without diagnostics array", Frame: params}
	}

	result := DiagnosticsResult{
		URI:     DocumentURI(uri.Str),
		Version: int(p.Get("version").Int()),
		Items:   make([]DiagnosticItem, 0, len(list.Array())),
	}
	for _, d := range list.Array() {
		rng := d.Get("range")
		if !rng.IsObject() {
			return DiagnosticsResult{}, &ProtocolViolationError{Reason: "diagnostic without range", Frame: params}
		}

		var severity DiagnosticSeverity
		switch sev := d.Get("severity"); sev.Type {
		case gjson.Number:
			severity = DiagnosticSeverity(sev.Int())
		case gjson.String:
			severity = ParseDiagnosticSeverity(sev.Str)
		}

		category := d.Get("category").String()
		if category == "" && severity != 0 {
			category = severity.String()
		}

		result.Items = append(result.Items, DiagnosticItem{
			Severity: severity,
			Category: category,
			Message:  d.Get("message").String(),
			Range: Range{
				Start: Position{Line: int(rng.Get("start.line").Int()), Character: int(rng.Get("start.character").Int())},
				End:   Position{Line: int(rng.Get("end.line").Int()), Character: int(rng.Get("end.character").Int())},
			},
			Source: d.Get("source").String(),
			Code:   d.Get("code").String(),
		})
	}
	return result, nil
}

// sameDocument compares two file URIs by the paths they denote, so servers
// that re-encode the URI still match.
func sameDocument(a, b DocumentURI) bool {
	if a == b {
		return true
	}
	return filepath.Clean(URIToFilePath(a)) == filepath.Clean(URIToFilePath(b))
}
