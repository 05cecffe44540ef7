// Package configs provides embedded configuration templates for quizrag.
//
// Templates are embedded at build time so every distribution can write
// them:
//   - user-config.example.yaml: machine settings (Ollama host, models,
//     storage credentials). Written by `quizrag config init`.
//   - project-config.example.yaml: settings versioned with the content
//     (source directory, search tuning). Written by
//     `quizrag config init --project`.
//
// See internal/config Load for the precedence between the two.
package configs

import _ "embed"

// UserConfigTemplate is the template for ~/.config/quizrag/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for .quizrag.yaml.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
