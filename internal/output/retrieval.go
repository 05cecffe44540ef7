package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/quizrag/internal/rag"
	"github.com/Aman-CERP/quizrag/internal/search"
)

// snippetLen bounds chunk text in terminal listings.
const snippetLen = 160

// Retrieval prints a retrieval response for humans.
func (w *Writer) Retrieval(resp *rag.Response) {
	conf := string(resp.Confidence)
	switch resp.Confidence {
	case search.BandHigh, search.BandMedium:
		conf = w.success.Render(conf)
	case search.BandLow:
		conf = w.warning.Render(conf)
	default:
		conf = w.failure.Render(conf)
	}

	w.Header("Results")
	w.KeyValue("Confidence", conf)
	w.KeyValue("Chunks", resp.UsedChunks)
	if resp.QueryRewritten {
		w.KeyValue("Rewritten", "yes")
	}
	w.KeyValue("Time", resp.Metrics.ProcessingTime.Round(time.Millisecond))
	w.Newline()

	if resp.Insufficient {
		w.Warning("Not enough indexed content to answer this question.")
		return
	}
	if resp.Warning != "" {
		w.Warning(resp.Warning)
	}

	for i, c := range resp.Chunks {
		_, _ = fmt.Fprintf(w.out, "%2d. %s %s\n", i+1, w.header.Render(c.Title), w.label.Render(fmt.Sprintf("(%.2f)", c.Score)))
		_, _ = fmt.Fprintf(w.out, "    %s\n", snippet(c.Text, snippetLen))
	}

	w.Newline()
	w.Header("Sources")
	for _, c := range resp.Citations {
		_, _ = fmt.Fprintf(w.out, "  - %s %s\n", c.Title, w.label.Render("["+c.ContentID+"]"))
	}
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
