// Package config loads keylsp settings.
//
// Settings come from three layers, higher layers overriding lower ones:
//
//	┌─────────────────────────────┐
//	│  3. Environment (KEYLSP_*)  │  ← Highest priority
//	├─────────────────────────────┤
//	│  2. Config file (.toml/.yml)│
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Command-line flags are applied by the caller after Load.
//
// # Basic Usage
//
//	cfg, err := config.Load("keylsp.toml")
//	if err != nil {
//	    return err
//	}
//	client := lsp.NewClient(cfg.ClientOptions(logger)...)
package config
