package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/llm"
)

// DefaultHistoryTurns is how many recent turns the rewriter sees.
const DefaultHistoryTurns = 5

// Accepted rewrite length in characters.
const (
	minRewriteChars = 3
	maxRewriteChars = 300
)

// Turn is one message of conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const rewritePrompt = `Rewrite the user's last question so it can be understood without the conversation.
Keep the user's language. Reply with the rewritten question only.

Conversation:
%s
Last question: %s
Rewritten question:`

// Rewriter turns a follow-up question into a self-contained one.
type Rewriter struct {
	gen   llm.Generator
	turns int
}

// NewRewriter creates a rewriter that shows the model the last turns
// messages. turns <= 0 uses the default.
func NewRewriter(gen llm.Generator, turns int) *Rewriter {
	if turns <= 0 {
		turns = DefaultHistoryTurns
	}
	return &Rewriter{gen: gen, turns: turns}
}

// Rewrite returns the rewritten query and true, or the input and false
// when there is no history, the model fails, or the output is rejected.
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []Turn) (string, bool) {
	if len(history) == 0 {
		return query, false
	}
	if len(history) > r.turns {
		history = history[len(history)-r.turns:]
	}

	var b strings.Builder
	for _, t := range history {
		role := t.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, strings.TrimSpace(t.Content))
	}

	out, err := r.gen.Generate(ctx, fmt.Sprintf(rewritePrompt, b.String(), query))
	if err != nil {
		if !errors.Is(err, qerrors.ErrCircuitOpen) {
			slog.Warn("query_rewrite_failed", slog.String("error", err.Error()))
		}
		return query, false
	}

	rewritten := cleanRewrite(out)
	n := utf8.RuneCountInString(rewritten)
	if n < minRewriteChars || n > maxRewriteChars || strings.EqualFold(rewritten, strings.TrimSpace(query)) {
		return query, false
	}
	return rewritten, true
}

// cleanRewrite keeps the first non-empty line and strips wrapping quotes.
func cleanRewrite(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.Trim(line, "\"'` ")
	}
	return ""
}
