package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/keylsp/internal/lsp"
)

var errTimeout = errors.New("timed out waiting for the server")

func newCompleteCmd(g *globalFlags) *cobra.Command {
	var (
		line    int
		col     int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "complete FILE",
		Short: "Print completions at a position",
		Long: `Open FILE in the language server and print the completion items at
--line and --col, one per line. Both are 1-based and the column counts
characters, not bytes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if line < 1 || col < 1 {
				return fmt.Errorf("--line and --col must be at least 1")
			}
			s, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			pos := toLSP(lsp.NewPositionConverter(s.content), line-1, col-1)
			id, err := s.client.RequestCompletion(pos.Line, pos.Character)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			items, err := awaitCompletion(ctx, s, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range items {
				fmt.Fprintln(out, item)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&line, "line", "l", 0, "Line number (1-based)")
	cmd.Flags().IntVarP(&col, "col", "C", 0, "Column (1-based, in characters)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "How long to wait for the server")
	_ = cmd.MarkFlagRequired("line")
	_ = cmd.MarkFlagRequired("col")
	return cmd
}

// awaitCompletion waits for the result tagged id. Server errors that arrive
// first are logged; a terminated server ends the wait.
func awaitCompletion(ctx context.Context, s *session, id lsp.ID) ([]string, error) {
	c := s.client
	for {
		select {
		case res, ok := <-c.Completions():
			if !ok {
				return nil, lsp.ErrServerTerminated
			}
			if res.RequestID == id {
				return res.Items, nil
			}
		case err, ok := <-c.Errors():
			if !ok {
				return nil, lsp.ErrServerTerminated
			}
			// Only one request is outstanding, so any RPC error answers it.
			var rpcErr *lsp.RPCError
			if errors.As(err, &rpcErr) {
				return nil, err
			}
			var shapeErr *lsp.UnrecognizedResponseShapeError
			if errors.As(err, &shapeErr) && shapeErr.ID == id {
				return nil, err
			}
			s.logger.Warn("server error", "error", err)
		case t, ok := <-c.Terminated():
			if ok && t.Err != nil {
				return nil, t.Err
			}
			return nil, lsp.ErrServerTerminated
		case <-ctx.Done():
			return nil, errTimeout
		}
	}
}
