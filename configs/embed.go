// Package configs provides the embedded configuration template for recall.
//
// The template is embedded at build time so that `recall config init` works
// from any binary, whatever way it was installed.
//
// Configuration hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config (~/.config/recall/config.yaml)
//  3. Project config (.recall.yaml)
//  4. Environment variables (RECALL_*)
package configs

import _ "embed"

// UserConfigTemplate is the commented user configuration written by
// `recall config init` to ~/.config/recall/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
