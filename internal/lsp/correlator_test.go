package lsp

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/tidwall/gjson"
)

// recordingSender captures every payload handed to Send.
type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (r *recordingSender) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, append([]byte(nil), payload...))
	return nil
}

func (r *recordingSender) last(t *testing.T) gjson.Result {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return gjson.ParseBytes(r.sent[len(r.sent)-1])
}

func TestCorrelator_CallAssignsUniqueIDs(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, 0, nil)

	seen := map[ID]bool{}
	for i := 0; i < 5; i++ {
		id, err := c.Call(MethodCompletion, nil, ExpectCompletion, i)
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true

		msg := s.last(t)
		if msg.Get("jsonrpc").String() != "2.0" {
			t.Errorf("jsonrpc = %q", msg.Get("jsonrpc").String())
		}
		if ID(msg.Get("id").Int()) != id {
			t.Errorf("wire id = %d, want %d", msg.Get("id").Int(), id)
		}
		if msg.Get("params").Exists() {
			t.Errorf("nil params should be omitted: %s", msg.Raw)
		}
	}

	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
}

func TestCorrelator_CallSendFailureForgetsRequest(t *testing.T) {
	s := &recordingSender{err: &TransportWriteError{}}
	c := NewCorrelator(s, 0, nil)

	_, err := c.Call(MethodShutdown, nil, ExpectShutdown, 1)
	if !errors.Is(err, ErrServerTerminated) {
		t.Errorf("Call error = %v, want ErrServerTerminated", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after failed send, want 0", c.Len())
	}
}

func TestCorrelator_Notify(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, 0, nil)

	if err := c.Notify(MethodExit, nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	msg := s.last(t)
	if msg.Get("id").Exists() {
		t.Errorf("notification carries an id: %s", msg.Raw)
	}
	if msg.Get("method").String() != MethodExit {
		t.Errorf("method = %q", msg.Get("method").String())
	}
}

func TestCorrelator_RouteResponse(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, 0, nil)

	id, _ := c.Call(MethodCompletion, nil, ExpectCompletion, 3)

	msg, err := c.Route([]byte(`{"jsonrpc":"2.0","id":` + itoa(id) + `,"result":[{"label":"x"}]}`))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	resp, ok := msg.(*Response)
	if !ok {
		t.Fatalf("Route returned %T, want *Response", msg)
	}
	if resp.Request.ID != id || resp.Request.Expect != ExpectCompletion || resp.Request.Version != 3 {
		t.Errorf("Request = %+v", resp.Request)
	}
	if string(resp.Result) != `[{"label":"x"}]` {
		t.Errorf("Result = %s", resp.Result)
	}

	// The entry is consumed.
	if _, ok := c.Pending(id); ok {
		t.Error("request still pending after its response")
	}
	_, err = c.Route([]byte(`{"jsonrpc":"2.0","id":` + itoa(id) + `,"result":null}`))
	if !errors.Is(err, ErrUnknownID) {
		t.Errorf("second response error = %v, want ErrUnknownID", err)
	}
}

func TestCorrelator_RouteErrorResponse(t *testing.T) {
	c := NewCorrelator(&recordingSender{}, 0, nil)
	id, _ := c.Call(MethodInitialize, nil, ExpectInitialize, 0)

	msg, err := c.Route([]byte(`{"jsonrpc":"2.0","id":"` + itoa(id) + `","error":{"code":-32603,"message":"boom","data":{"k":1}}}`))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	resp := msg.(*Response)
	if resp.Err == nil || resp.Err.Code != CodeInternalError || resp.Err.Message != "boom" {
		t.Fatalf("Err = %+v", resp.Err)
	}
	if resp.Err.Data == nil {
		t.Error("error data dropped")
	}
}

func TestCorrelator_RouteClassification(t *testing.T) {
	c := NewCorrelator(&recordingSender{}, 0, nil)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"notification", `{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{}}`, "notification"},
		{"server request numeric id", `{"jsonrpc":"2.0","id":7,"method":"workspace/configuration","params":{}}`, "request"},
		{"server request string id", `{"jsonrpc":"2.0","id":"abc","method":"client/registerCapability"}`, "request"},
		{"null id notification", `{"jsonrpc":"2.0","id":null,"method":"window/logMessage"}`, "notification"},
		{"unknown id", `{"jsonrpc":"2.0","id":99,"result":null}`, "violation"},
		{"non-numeric id", `{"jsonrpc":"2.0","id":"zz","result":null}`, "violation"},
		{"neither", `{"jsonrpc":"2.0"}`, "violation"},
		{"array", `[1,2]`, "violation"},
		{"not json", `{"jsonrpc":`, "violation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := c.Route([]byte(tt.frame))
			var got string
			switch msg.(type) {
			case *Notification:
				got = "notification"
			case *ServerRequest:
				got = "request"
			case *Response:
				got = "response"
			}
			if err != nil {
				var pv *ProtocolViolationError
				if !errors.As(err, &pv) {
					t.Fatalf("error %v is not a ProtocolViolationError", err)
				}
				got = "violation"
			}
			if got != tt.want {
				t.Errorf("Route(%s) = %s, want %s", tt.frame, got, tt.want)
			}
		})
	}
}

func TestCorrelator_ReplyEchoesRawID(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, 0, nil)

	msg, err := c.Route([]byte(`{"jsonrpc":"2.0","id":"srv-1","method":"window/workDoneProgress/create","params":{"token":"t"}}`))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	req := msg.(*ServerRequest)

	if err := c.Reply(req.ID, nil); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	reply := s.last(t)
	if reply.Get("id").Type != gjson.String || reply.Get("id").Str != "srv-1" {
		t.Errorf("reply id = %s, want \"srv-1\"", reply.Get("id").Raw)
	}
	if r := reply.Get("result"); !r.Exists() || r.Type != gjson.Null {
		t.Errorf("reply result = %s, want null", r.Raw)
	}

	if err := c.ReplyError([]byte(`42`), &RPCError{Code: CodeMethodNotFound, Message: "nope"}); err != nil {
		t.Fatalf("ReplyError failed: %v", err)
	}
	reply = s.last(t)
	if reply.Get("id").Int() != 42 || reply.Get("id").Type != gjson.Number {
		t.Errorf("reply id = %s, want 42", reply.Get("id").Raw)
	}
	if reply.Get("error.code").Int() != CodeMethodNotFound {
		t.Errorf("error.code = %s", reply.Get("error.code").Raw)
	}
	if reply.Get("result").Exists() {
		t.Error("error reply carries a result")
	}
}

func TestCorrelator_EvictsOldest(t *testing.T) {
	c := NewCorrelator(&recordingSender{}, 3, nil)

	var ids []ID
	for i := 0; i < 5; i++ {
		id, err := c.Call(MethodCompletion, nil, ExpectCompletion, 1)
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		ids = append(ids, id)
	}

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	for _, id := range ids[:2] {
		if _, ok := c.Pending(id); ok {
			t.Errorf("id %d should have been evicted", id)
		}
	}
	for _, id := range ids[2:] {
		if _, ok := c.Pending(id); !ok {
			t.Errorf("id %d should still be pending", id)
		}
	}

	if n := c.Discard(); n != 3 {
		t.Errorf("Discard() = %d, want 3", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Discard = %d", c.Len())
	}
}

func TestResponseKindString(t *testing.T) {
	tests := []struct {
		kind ResponseKind
		want string
	}{
		{ExpectNone, "none"},
		{ExpectInitialize, "initialize"},
		{ExpectCompletion, "completion"},
		{ExpectShutdown, "shutdown"},
		{ResponseKind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ResponseKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func itoa(id ID) string {
	return strconv.FormatInt(int64(id), 10)
}
