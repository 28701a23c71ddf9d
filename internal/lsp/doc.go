// Package lsp provides the Language Server Protocol client used by the editor
// for a single open document.
//
// The package launches and supervises one language server process, speaks
// JSON-RPC 2.0 with LSP Content-Length framing, keeps the server's copy of the
// document in sync with full-document replacements, and surfaces completions
// and diagnostics asynchronously.
//
// # Architecture
//
// The package is organized around these components, leaf first:
//
//   - Transport: owns the server process and the byte-level framing
//   - Correlator: issues request ids, tracks pending requests, routes frames
//   - Session: the LSP method vocabulary and lifecycle state machine
//   - Client: the facade the editor talks to
//
// # Quick Start
//
//	client := lsp.NewClient(lsp.WithServer("clangd"))
//	if err := client.Open("/proj", "/proj/a.c", content); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	client.ContentChanged(newContent)
//	client.RequestCompletion(0, 4)
//
//	for {
//	    select {
//	    case res := <-client.Completions():
//	        // res.Items is the ordered list of insertion strings
//	    case set := <-client.Diagnostics():
//	        // set.Items replaces any previous diagnostics
//	    case t := <-client.Terminated():
//	        // t.Crashed() reports an unexpected exit
//	    }
//	}
//
// # Ordering
//
// Messages reach the server in the order they were sent. Responses and
// notifications are handled in the order the server emitted them, on one
// goroutine per session. Nothing is retried or restarted by this package;
// RestartPolicy is offered to callers that want to recreate a crashed session.
package lsp

// Version is reported to servers in clientInfo.
const Version = "0.3.0"
