package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/keylsp/internal/lsp"
)

func newDiagnoseCmd(g *globalFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "diagnose FILE",
		Short: "Print the diagnostics the server publishes for a file",
		Long: `Open FILE in the language server, wait for the first diagnostic set
published for it and print each diagnostic as

  FILE:LINE:COL: CATEGORY: MESSAGE [SOURCE CODE]

Servers that publish nothing within --timeout produce no output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c := s.client
			errs := c.Errors()
			for {
				select {
				case set, ok := <-c.Diagnostics():
					if !ok {
						return lsp.ErrServerTerminated
					}
					printDiagnostics(cmd.OutOrStdout(), args[0], s.content, set)
					return nil
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					s.logger.Warn("server error", "error", err)
				case t := <-c.Terminated():
					if t.Err != nil {
						return t.Err
					}
					return lsp.ErrServerTerminated
				case <-ctx.Done():
					s.logger.Debug("no diagnostics published", "timeout", timeout)
					return nil
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "How long to wait for diagnostics")
	return cmd
}

// printDiagnostics writes one line per item with 1-based, character-counted
// positions.
func printDiagnostics(w io.Writer, name, content string, set lsp.DiagnosticsResult) {
	conv := lsp.NewPositionConverter(content)
	for _, d := range set.Items {
		fmt.Fprintln(w, formatDiagnostic(name, conv, d))
	}
}

func formatDiagnostic(name string, conv *lsp.PositionConverter, d lsp.DiagnosticItem) string {
	line, col := fromLSP(conv, d.Range.Start)
	category := d.Category
	if category == "" {
		category = "diagnostic"
	}
	msg := fmt.Sprintf("%s:%d:%d: %s: %s", name, line+1, col+1, category, d.Message)
	switch {
	case d.Source != "" && d.Code != "":
		msg += fmt.Sprintf(" [%s %s]", d.Source, d.Code)
	case d.Source != "":
		msg += fmt.Sprintf(" [%s]", d.Source)
	case d.Code != "":
		msg += fmt.Sprintf(" [%s]", d.Code)
	}
	return msg
}
