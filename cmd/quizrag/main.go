// Package main provides the entry point for the quizrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/quizrag/cmd/quizrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
