package lsp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxPending bounds the pending-request table.
const DefaultMaxPending = 256

// ID identifies a request issued by this client.
type ID int64

// ResponseKind records which reply shape a request expects, so responses are
// decoded by the stored tag instead of by re-deriving intent from the method.
type ResponseKind int

const (
	// ExpectNone means the result is not inspected.
	ExpectNone ResponseKind = iota
	// ExpectInitialize expects an InitializeResult.
	ExpectInitialize
	// ExpectCompletion expects a CompletionList, a CompletionItem array or null.
	ExpectCompletion
	// ExpectShutdown expects a null result.
	ExpectShutdown
)

// String returns a human-readable kind name.
func (k ResponseKind) String() string {
	switch k {
	case ExpectNone:
		return "none"
	case ExpectInitialize:
		return "initialize"
	case ExpectCompletion:
		return "completion"
	case ExpectShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// PendingRequest is one request awaiting exactly one response.
type PendingRequest struct {
	ID       ID
	Method   string
	Expect   ResponseKind
	Version  int
	IssuedAt time.Time
}

// Sender writes one encoded message. *Transport implements it.
type Sender interface {
	Send(payload []byte) error
}

// Message is a routed inbound frame: one of *Response, *Notification or
// *ServerRequest.
type Message interface {
	routedMessage()
}

// Response resolves a pending request.
type Response struct {
	Request PendingRequest
	Result  []byte
	Err     *RPCError
}

// Notification is a server message without an id.
type Notification struct {
	Method string
	Params []byte
}

// ServerRequest is a server-initiated request. ID holds the raw JSON id so the
// reply can echo it exactly.
type ServerRequest struct {
	ID     []byte
	Method string
	Params []byte
}

func (*Response) routedMessage()      {}
func (*Notification) routedMessage()  {}
func (*ServerRequest) routedMessage() {}

// Correlator assigns request ids, tracks pending requests and routes inbound
// frames. It has no document knowledge.
type Correlator struct {
	mu         sync.Mutex
	sender     Sender
	logger     *slog.Logger
	nextID     ID
	pending    map[ID]*PendingRequest
	maxPending int
	now        func() time.Time
}

// NewCorrelator creates a correlator writing through sender.
func NewCorrelator(sender Sender, maxPending int, logger *slog.Logger) *Correlator {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Correlator{
		sender:     sender,
		logger:     logger,
		pending:    make(map[ID]*PendingRequest),
		maxPending: maxPending,
		now:        time.Now,
	}
}

type envelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *ID    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Call issues a request. The pending entry is recorded before the bytes are
// sent so a fast reply always finds it.
func (c *Correlator) Call(method string, params any, expect ResponseKind, version int) (ID, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = &PendingRequest{
		ID:       id,
		Method:   method,
		Expect:   expect,
		Version:  version,
		IssuedAt: c.now(),
	}
	c.evictLocked()
	c.mu.Unlock()

	data, err := json.Marshal(envelope{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err == nil {
		err = c.sender.Send(data)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, fmt.Errorf("%s request: %w", method, err)
	}
	return id, nil
}

// Notify sends a notification.
func (c *Correlator) Notify(method string, params any) error {
	data, err := json.Marshal(envelope{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	if err := c.sender.Send(data); err != nil {
		return fmt.Errorf("%s notification: %w", method, err)
	}
	return nil
}

// Reply answers a server-initiated request with a result.
func (c *Correlator) Reply(rawID []byte, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	data, err := replyEnvelope(rawID)
	if err == nil {
		data, err = sjson.SetRawBytes(data, "result", resultJSON)
	}
	if err != nil {
		return fmt.Errorf("build reply: %w", err)
	}
	return c.sender.Send(data)
}

// ReplyError answers a server-initiated request with an error.
func (c *Correlator) ReplyError(rawID []byte, rpcErr *RPCError) error {
	errJSON, err := json.Marshal(rpcErr)
	if err != nil {
		return fmt.Errorf("marshal reply error: %w", err)
	}
	data, err := replyEnvelope(rawID)
	if err == nil {
		data, err = sjson.SetRawBytes(data, "error", errJSON)
	}
	if err != nil {
		return fmt.Errorf("build reply: %w", err)
	}
	return c.sender.Send(data)
}

func replyEnvelope(rawID []byte) ([]byte, error) {
	return sjson.SetRawBytes([]byte(`{"jsonrpc":"2.0"}`), "id", rawID)
}

// Route classifies an inbound frame. Frames that are not valid JSON-RPC, or
// responses for ids that are not pending, yield a *ProtocolViolationError.
func (c *Correlator) Route(frame []byte) (Message, error) {
	if !gjson.ValidBytes(frame) {
		return nil, &ProtocolViolationError{Reason: "invalid JSON", Frame: frame}
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return nil, &ProtocolViolationError{Reason: "message is not an object", Frame: frame}
	}

	id := root.Get("id")
	method := root.Get("method")
	hasID := id.Exists() && id.Type != gjson.Null

	switch {
	case method.Exists() && hasID:
		return &ServerRequest{ID: []byte(id.Raw), Method: method.String(), Params: rawBytes(root.Get("params"))}, nil

	case method.Exists():
		return &Notification{Method: method.String(), Params: rawBytes(root.Get("params"))}, nil

	case hasID:
		reqID, ok := parseID(id)
		if !ok {
			return nil, &ProtocolViolationError{Reason: "response id " + id.Raw + " was never issued", Frame: frame, Err: ErrUnknownID}
		}
		c.mu.Lock()
		pending, found := c.pending[reqID]
		if found {
			delete(c.pending, reqID)
		}
		c.mu.Unlock()
		if !found {
			return nil, &ProtocolViolationError{Reason: fmt.Sprintf("response id %d is not pending", reqID), Frame: frame, Err: ErrUnknownID}
		}

		resp := &Response{Request: *pending}
		if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
			resp.Err = &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}
			if d := e.Get("data"); d.Exists() {
				resp.Err.Data = d.Value()
			}
		} else {
			resp.Result = rawBytes(root.Get("result"))
		}
		return resp, nil

	default:
		return nil, &ProtocolViolationError{Reason: "message has neither id nor method", Frame: frame}
	}
}

// parseID accepts numeric ids and numeric strings, the two forms a server may
// echo back for an id this client issued.
func parseID(v gjson.Result) (ID, bool) {
	switch v.Type {
	case gjson.Number:
		return ID(v.Int()), true
	case gjson.String:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, false
		}
		return ID(n), true
	default:
		return 0, false
	}
}

func rawBytes(v gjson.Result) []byte {
	if !v.Exists() {
		return nil
	}
	return []byte(v.Raw)
}

// evictLocked drops the oldest pending entries while the table is over its bound.
// Ids grow monotonically, so the smallest id is the oldest.
func (c *Correlator) evictLocked() {
	for len(c.pending) > c.maxPending {
		var oldest *PendingRequest
		for _, p := range c.pending {
			if oldest == nil || p.ID < oldest.ID {
				oldest = p
			}
		}
		delete(c.pending, oldest.ID)
		c.logger.Warn("pending request table full, evicting oldest",
			"id", oldest.ID, "method", oldest.Method, "age", c.now().Sub(oldest.IssuedAt))
	}
}

// Discard clears every pending entry and returns how many were dropped.
func (c *Correlator) Discard() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	c.pending = make(map[ID]*PendingRequest)
	return n
}

// Len returns the number of pending requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Pending returns a copy of the pending entry for id.
func (c *Correlator) Pending(id ID) (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return PendingRequest{}, false
	}
	return *p, true
}
