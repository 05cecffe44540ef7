//go:build ignore

// Package main generates a synthetic quiz corpus for load testing rebuilds
// and retrieval.
// Usage: go run scripts/generate-quiz-corpus.go -items 500 -output testdata/quizzes
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/Aman-CERP/quizrag/internal/content"
	"github.com/Aman-CERP/quizrag/internal/source"
)

var (
	numItems  = flag.Int("items", 500, "Number of quiz items to generate")
	questions = flag.Int("questions", 8, "Questions per item")
	outputDir = flag.String("output", "testdata/quizzes", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = []struct {
	category string
	subjects []string
	facts    []string
}{
	{"geography", []string{"capitals", "rivers", "mountains", "deserts"}, []string{"Paris", "Nile", "Everest", "Sahara", "Danube", "Andes"}},
	{"biology", []string{"cells", "genetics", "ecosystems", "anatomy"}, []string{"mitochondria", "DNA", "photosynthesis", "ribosome", "enzyme"}},
	{"history", []string{"empires", "revolutions", "treaties", "explorers"}, []string{"Rome", "1789", "Westphalia", "Magellan", "Byzantium"}},
	{"physics", []string{"motion", "optics", "thermodynamics", "circuits"}, []string{"inertia", "refraction", "entropy", "resistance", "momentum"}},
	{"lịch sử", []string{"triều đại", "chiến tranh", "văn hóa"}, []string{"Hà Nội", "Lý Thái Tổ", "Điện Biên Phủ", "Huế"}},
}

var (
	statuses     = []content.Status{content.StatusApproved, content.StatusApproved, content.StatusApproved, content.StatusDraft, content.StatusPending}
	visibilities = []content.Visibility{content.VisibilityPublic, content.VisibilityPublic, content.VisibilityPrivate, content.VisibilityPassword}
	difficulties = []string{"easy", "medium", "hard"}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	approved := 0
	for i := range *numItems {
		it := generateItem(rng, i, base)
		if it.Publishable() {
			approved++
		}
		if err := source.WriteItem(*outputDir, it); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", it.ID, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generated %d items (%d approved) in %s\n", *numItems, approved, *outputDir)
}

func generateItem(rng *rand.Rand, i int, base time.Time) *content.Item {
	topic := topics[rng.Intn(len(topics))]
	subject := topic.subjects[rng.Intn(len(topic.subjects))]

	it := &content.Item{
		ID:          fmt.Sprintf("quiz-%05d", i),
		Status:      statuses[rng.Intn(len(statuses))],
		Visibility:  visibilities[rng.Intn(len(visibilities))],
		Title:       fmt.Sprintf("%s quiz %d", subject, i),
		Description: fmt.Sprintf("Questions about %s in %s", subject, topic.category),
		Category:    topic.category,
		Difficulty:  difficulties[rng.Intn(len(difficulties))],
		Tags:        []string{topic.category, subject},
		CreatedAt:   base.Add(time.Duration(i) * time.Hour),
	}
	it.UpdatedAt = it.CreatedAt

	for q := range *questions {
		answer := topic.facts[rng.Intn(len(topic.facts))]
		distractor := topic.facts[rng.Intn(len(topic.facts))]
		it.SubItems = append(it.SubItems, content.SubItem{
			ID:            fmt.Sprintf("q%d", q+1),
			Question:      fmt.Sprintf("Which of these relates to %s (%d)?", subject, q+1),
			Options:       []string{answer, distractor},
			CorrectAnswer: answer,
			Explanation:   fmt.Sprintf("%s is a key term in %s.", answer, subject),
		})
	}
	return it
}
