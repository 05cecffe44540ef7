package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Aman-CERP/quizrag/internal/index"
	"github.com/Aman-CERP/quizrag/internal/queue"
	"github.com/Aman-CERP/quizrag/internal/store"
	"github.com/Aman-CERP/quizrag/internal/telemetry"
)

// StatusInfo is everything `quizrag stats` reports.
type StatusInfo struct {
	Index     *index.Stats       `json:"index"`
	Queue     *queue.Stats       `json:"queue,omitempty"`
	Telemetry *telemetry.Summary `json:"telemetry,omitempty"`
	// TelemetryDays is the window Telemetry covers.
	TelemetryDays int `json:"telemetry_days,omitempty"`
}

// StatusRenderer displays index, queue and retrieval status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor), now: time.Now}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	r.renderIndex(info.Index)
	if info.Queue != nil {
		r.renderQueue(info.Queue)
	}
	if info.Telemetry != nil {
		r.renderTelemetry(info.Telemetry, info.TelemetryDays)
	}
	return nil
}

func (r *StatusRenderer) renderIndex(st *index.Stats) {
	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render("Index"))
	if st == nil || !st.Exists {
		_, _ = fmt.Fprintf(r.out, "  %s\n\n", r.styles.Warning.Render("no index; run `quizrag rebuild`"))
		return
	}
	_, _ = fmt.Fprintf(r.out, "  Version:      %d\n", st.Version)
	_, _ = fmt.Fprintf(r.out, "  Contents:     %d\n", st.Contents)
	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", st.TotalChunks)
	sources := make([]store.SourceType, 0, len(st.Sources))
	for s := range st.Sources {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	for _, s := range sources {
		_, _ = fmt.Fprintf(r.out, "    %-14s %d\n", string(s)+":", st.Sources[s])
	}
	if st.Model != "" {
		_, _ = fmt.Fprintf(r.out, "  Model:        %s (%d dims)\n", st.Model, st.Dimensions)
	}
	if st.SizeBytes > 0 {
		_, _ = fmt.Fprintf(r.out, "  Size:         %s\n", FormatBytes(st.SizeBytes))
	}
	if !st.UpdatedAt.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Updated:      %s\n", r.formatTime(st.UpdatedAt))
	}
	_, _ = fmt.Fprintln(r.out)
}

func (r *StatusRenderer) renderQueue(st *queue.Stats) {
	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render("Queue"))
	_, _ = fmt.Fprintf(r.out, "  Pending:      %d\n", st.Pending)
	_, _ = fmt.Fprintf(r.out, "  Processing:   %d\n", st.Processing)
	_, _ = fmt.Fprintf(r.out, "  Completed:    %d\n", st.Completed)
	failed := fmt.Sprintf("%d", st.Failed)
	if st.Failed > 0 {
		failed = r.styles.Error.Render(failed)
	}
	_, _ = fmt.Fprintf(r.out, "  Failed:       %s\n\n", failed)
}

func (r *StatusRenderer) renderTelemetry(s *telemetry.Summary, days int) {
	title := "Retrieval"
	if days > 0 {
		title = fmt.Sprintf("Retrieval (last %d days)", days)
	}
	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render(title))
	_, _ = fmt.Fprintf(r.out, "  Searches:     %d\n", s.TotalSearches)
	if s.TotalSearches == 0 {
		_, _ = fmt.Fprintln(r.out)
		return
	}
	for _, band := range []string{"high", "medium", "low", "none"} {
		n := s.Bands[band]
		_, _ = fmt.Fprintf(r.out, "    %-12s %d (%.0f%%)\n", band+":", n, percent(n, s.TotalSearches))
	}
	_, _ = fmt.Fprintf(r.out, "  Fast path:    %.0f%%\n", s.FastPathRate()*100)
	_, _ = fmt.Fprintf(r.out, "  Rewritten:    %d\n", s.Paths[telemetry.PathRewritten])
	_, _ = fmt.Fprintf(r.out, "  Reranked:     %d\n", s.Paths[telemetry.PathReranked])

	_, _ = fmt.Fprintln(r.out, "  Latency:")
	for _, b := range []telemetry.LatencyBucket{telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000} {
		_, _ = fmt.Fprintf(r.out, "    %-12s %d\n", string(b)+":", s.LatencyDistribution[b])
	}

	if len(s.InsufficientQueries) > 0 {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Warning.Render("Unanswered queries:"))
		for _, q := range s.InsufficientQueries {
			_, _ = fmt.Fprintf(r.out, "    %4d  %s\n", q.Count, q.Query)
		}
	}
	_, _ = fmt.Fprintln(r.out)
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

// formatTime formats a time relative to now.
func (r *StatusRenderer) formatTime(t time.Time) string {
	diff := r.now().Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
