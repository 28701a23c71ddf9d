package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/keylsp/internal/config"
	"github.com/dshills/keylsp/internal/logging"
	"github.com/dshills/keylsp/internal/lsp"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	server     string
	args       []string
	root       string
	logLevel   string
	logFormat  string
	stderr     bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "keylsp",
		Short: "Drive a language server for a single file",
		Long: `keylsp launches a language server, opens one file in it and reports
what the server says about that file.

Settings are read from the file given with --config (TOML or YAML), then
from KEYLSP_* environment variables, then from flags.

Examples:
  # Completions at line 12, column 8 (1-based)
  keylsp complete --server clangd --line 12 --col 8 src/main.c

  # Print diagnostics once
  keylsp diagnose --config keylsp.toml src/main.c

  # Follow a file as it is edited on disk
  keylsp watch --server gopls main.go`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to configuration file (.toml, .yaml)")
	pf.StringVarP(&g.server, "server", "s", "", "Language server command")
	pf.StringArrayVar(&g.args, "arg", nil, "Argument passed to the language server (repeatable)")
	pf.StringVar(&g.root, "root", "", "Workspace root (defaults to the file's directory)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text, json")
	pf.BoolVar(&g.stderr, "server-stderr", false, "Copy the server's stderr to ours")

	cmd.AddCommand(
		newCompleteCmd(g),
		newDiagnoseCmd(g),
		newWatchCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return cmd
}

// load builds the effective configuration: file, environment, then flags.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server.Command = g.server
	}
	if flags.Changed("arg") {
		cfg.Server.Args = g.args
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = g.logFormat
	}
	return cfg, nil
}

// lspClient is the part of *lsp.Client the commands use.
type lspClient interface {
	Open(root, file, content string) error
	ContentChanged(content string) error
	RequestCompletion(line, col int) (lsp.ID, error)
	Close(ctx context.Context) error
	Completions() <-chan lsp.CompletionResult
	Diagnostics() <-chan lsp.DiagnosticsResult
	Errors() <-chan error
	Terminated() <-chan lsp.Termination
	Version() int
	SessionID() string
}

func newLSPClient(opts ...lsp.ClientOption) lspClient {
	return lsp.NewClient(opts...)
}

// session holds what a subcommand needs to talk to one server.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    lspClient
	newClient func(...lsp.ClientOption) lspClient
	root      string
	file      string
	content   string
	stderr    io.Writer
}

// open loads configuration, reads file and opens it in a new client.
func (g *globalFlags) open(cmd *cobra.Command, file string) (*session, error) {
	cfg, err := g.load(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LoggerConfig(cmd.ErrOrStderr()))

	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	root := g.root
	if root == "" {
		root = filepath.Dir(abs)
	}
	if root, err = filepath.Abs(root); err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, newClient: newLSPClient, root: root, file: abs, content: string(data)}
	if g.stderr {
		s.stderr = cmd.ErrOrStderr()
	}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

// reopen starts a fresh client on the current content.
func (s *session) reopen() error {
	opts := s.cfg.ClientOptions(s.logger)
	if s.stderr != nil {
		opts = append(opts, lsp.WithStderr(s.stderr))
	}
	client := s.newClient(opts...)
	if err := client.Open(s.root, s.file, s.content); err != nil {
		return fmt.Errorf("open %s: %w", s.file, err)
	}
	s.client = client
	s.logger.Debug("session opened", "session", client.SessionID(), "file", s.file, "root", s.root)
	return nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.Session.ShutdownTimeout.Std())
	defer cancel()
	if err := s.client.Close(ctx); err != nil {
		s.logger.Warn("close failed", "error", err)
	}
}
