// Package logging configures the process-wide slog logger for quizrag.
//
// Logs are JSON lines written to a size-rotated file under ~/.quizrag/logs/,
// optionally mirrored to stderr. The MCP server mode never writes to stderr
// or stdout because stdout carries the JSON-RPC stream.
package logging
