package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/keylsp/internal/lsp"
	"github.com/dshills/keylsp/internal/watcher"
)

const clearScreen = "\x1b[H\x1b[2J"

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		restarts int
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Follow a file on disk and print diagnostics as they change",
		Long: `Open FILE in the language server, then send its full content again
every time it changes on disk. Each diagnostic set the server publishes is
printed after a separator line. On a terminal the screen is cleared first.

A server that crashes is restarted with exponential backoff, up to
--restarts times. Interrupt with Ctrl-C to shut the server down cleanly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer func() { s.close() }()

			w, err := watcher.New(s.file,
				watcher.WithDebounce(debounce),
				watcher.WithLogger(s.logger.With("component", "watcher")),
			)
			if err != nil {
				return err
			}
			defer w.Close()

			policy := lsp.DefaultRestartPolicy()
			policy.MaxRestarts = restarts
			return watchLoop(ctx, cmd.OutOrStdout(), args[0], s, w, policy)
		},
	}

	cmd.Flags().IntVar(&restarts, "restarts", lsp.DefaultRestartPolicy().MaxRestarts, "Restarts allowed after server crashes (0 disables)")
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "Quiet period before a file change is sent")
	return cmd
}

// watchLoop forwards file changes to the server and prints diagnostics until
// ctx ends, the server exits on request or the restart policy is exhausted.
func watchLoop(ctx context.Context, out io.Writer, name string, s *session, w *watcher.FileWatcher, policy lsp.RestartPolicy) error {
	started := time.Now()
	attempt := 0
	redraw := isTerminal(out)
	watchErrs := w.Errors()

	for {
		c := s.client
		diags, errs, exits := c.Diagnostics(), c.Errors(), c.Terminated()

	events:
		for {
			select {
			case <-ctx.Done():
				return nil

			case change, ok := <-w.Changes():
				if !ok {
					return nil
				}
				s.content = change.Content
				if err := c.ContentChanged(change.Content); err != nil {
					s.logger.Warn("content not sent", "error", err)
				}

			case err, ok := <-watchErrs:
				if !ok {
					watchErrs = nil
					continue
				}
				s.logger.Warn("watch error", "error", err)

			case set, ok := <-diags:
				if !ok {
					diags = nil
					continue
				}
				if redraw {
					fmt.Fprint(out, clearScreen)
				}
				fmt.Fprintf(out, "--- %s (version %d, %d diagnostics)\n", name, c.Version(), len(set.Items))
				printDiagnostics(out, name, s.content, set)

			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				s.logger.Warn("server error", "error", err)

			case t, ok := <-exits:
				if !ok || !t.Crashed() {
					return nil
				}
				attempt = policy.NextAttempt(attempt, time.Since(started))
				if !policy.Allow(attempt) {
					return fmt.Errorf("giving up after %d restarts: %w", attempt-1, t.Err)
				}
				delay := policy.Delay(attempt)
				s.logger.Warn("server crashed, restarting", "exit_code", t.ExitCode, "attempt", attempt, "delay", delay)

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil
				}
				if err := s.reopen(); err != nil {
					return err
				}
				started = time.Now()
				break events
			}
		}
	}
}

// isTerminal reports whether w is an interactive terminal. Each diagnostic
// set then replaces the previous one on screen instead of scrolling.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
