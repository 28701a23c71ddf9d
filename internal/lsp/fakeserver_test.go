package lsp

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// The test binary doubles as a scripted language server: when
// KEYLSP_FAKE_SERVER names a mode, TestMain runs the server instead of the
// tests. Every frame the server receives is appended to KEYLSP_FAKE_LOG.
const (
	fakeServerEnv = "KEYLSP_FAKE_SERVER"
	fakeLogEnv    = "KEYLSP_FAKE_LOG"
)

// Fake server modes.
const (
	fakeNormal         = "normal"
	fakeCrashOnRequest = "crash-on-completion"
	fakeHoldCompletion = "hold-completion"
	fakeIgnoreShutdown = "ignore-shutdown"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeServerEnv); mode != "" {
		os.Exit(runFakeServer(mode))
	}
	os.Exit(m.Run())
}

type fakeServer struct {
	mu  sync.Mutex
	out *bufio.Writer
}

func (f *fakeServer) send(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.out, "Content-Length: %d\r\n\r\n%s", len(payload), payload)
	f.out.Flush()
}

func (f *fakeServer) respond(id, result string) {
	f.send(`{"jsonrpc":"2.0","id":` + id + `,"result":` + result + `}`)
}

// publish reports one error per line containing ERR, or clears the list.
func (f *fakeServer) publish(uri string, version int64, text string) {
	var diags []string
	for i, line := range strings.Split(text, "\n") {
		if col := strings.Index(line, "ERR"); col >= 0 {
			diags = append(diags, fmt.Sprintf(
				`{"range":{"start":{"line":%d,"character":%d},"end":{"line":%d,"character":%d}},"severity":1,"source":"fake","message":"bad token"}`,
				i, col, i, col+3))
		}
	}
	f.send(fmt.Sprintf(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":%q,"version":%d,"diagnostics":[%s]}}`,
		uri, version, strings.Join(diags, ",")))
}

func runFakeServer(mode string) int {
	var log *os.File
	if path := os.Getenv(fakeLogEnv); path != "" {
		var err error
		log, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fake server:", err)
			return 2
		}
		defer log.Close()
	}

	f := &fakeServer{out: bufio.NewWriter(os.Stdout)}
	in := bufio.NewReader(os.Stdin)
	fmt.Fprintln(os.Stderr, "fake server starting in", mode, "mode")

	var held string
	for {
		payload, err := readFrame(in)
		if err != nil {
			if mode == fakeIgnoreShutdown {
				time.Sleep(time.Hour)
			}
			return 0
		}
		if log != nil {
			log.Write(append(payload, '\n'))
		}

		msg := gjson.ParseBytes(payload)
		id := msg.Get("id").Raw
		switch msg.Get("method").String() {
		case MethodInitialize:
			f.send(`{"jsonrpc":"2.0","id":"srv-1","method":"window/workDoneProgress/create","params":{"token":"index"}}`)
			f.respond(id, `{"capabilities":{"textDocumentSync":1,"completionProvider":{}},"serverInfo":{"name":"fake","version":"1.0"}}`)

		case MethodDidOpen:
			doc := msg.Get("params.textDocument")
			f.publish(doc.Get("uri").String(), doc.Get("version").Int(), doc.Get("text").String())

		case MethodDidChange:
			f.publish(msg.Get("params.textDocument.uri").String(),
				msg.Get("params.textDocument.version").Int(),
				msg.Get("params.contentChanges.0.text").String())
			if held != "" {
				f.respond(held, `[{"label":"stale"}]`)
				held = ""
			}

		case MethodCompletion:
			switch mode {
			case fakeCrashOnRequest:
				return 3
			case fakeHoldCompletion:
				if held == "" {
					held = id
					continue
				}
			}
			f.respond(id, `{"isIncomplete":false,"items":[{"label":"foo"},{"label":"bar","insertText":"bar()"}]}`)

		case MethodShutdown:
			if mode != fakeIgnoreShutdown {
				f.respond(id, `null`)
			}

		case MethodExit:
			if mode != fakeIgnoreShutdown {
				return 0
			}
		}
	}
}
