// Package chunk turns content items into retrievable text chunks.
//
// Every publishable item yields one metadata chunk. Public items also yield
// one chunk per sub-item; restricted items never expose sub-item text, so
// gated material cannot leak through search.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/quizrag/internal/content"
	"github.com/Aman-CERP/quizrag/internal/store"
)

// Placeholders for empty metadata fields.
const (
	noDescription = "No description"
	noCategory    = "Uncategorized"
	noDifficulty  = "Unspecified"
)

// MetaID returns the id of the metadata chunk of contentID.
func MetaID(contentID string) string {
	return contentID + "_meta"
}

// SubItemID returns the id of a sub-item chunk.
func SubItemID(contentID, subItemID string) string {
	return contentID + "_" + subItemID
}

// ContentHash hashes the human-significant fields of an item: title,
// description and category joined by single spaces.
func ContentHash(item *content.Item) string {
	if item == nil {
		return ""
	}
	return HashFields(item.Title, item.Description, item.Category)
}

// HashFields is ContentHash over raw field values.
func HashFields(title, description, category string) string {
	sum := sha256.Sum256([]byte(title + " " + description + " " + category))
	return hex.EncodeToString(sum[:])
}

// Extract returns the chunks for item. It returns nil when the item is not
// publishable. Chunk ids are deterministic, so re-extracting an unchanged
// item yields the same ids.
func Extract(contentID string, item *content.Item) []store.Chunk {
	if !item.Publishable() {
		return nil
	}

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	visibility := item.Visibility
	if visibility == "" {
		visibility = content.VisibilityPublic
	}
	hash := ContentHash(item)

	chunks := make([]store.Chunk, 0, 1+len(item.SubItems))
	chunks = append(chunks, store.Chunk{
		ID:          MetaID(contentID),
		Text:        metaText(item),
		Title:       item.Title,
		SourceType:  store.SourceQuizMeta,
		Visibility:  string(visibility),
		OwnerID:     contentID,
		Category:    item.Category,
		CreatedAt:   createdAt,
		ContentHash: hash,
	})

	if visibility != content.VisibilityPublic {
		return chunks
	}

	// "meta" is taken by the metadata chunk.
	taken := map[string]bool{"meta": true}
	for i, sub := range item.SubItems {
		subID := uniqueSubID(sub.ID, i, taken)
		chunks = append(chunks, store.Chunk{
			ID:          SubItemID(contentID, subID),
			Text:        subItemText(&sub),
			Title:       fmt.Sprintf("%s - Question %d", item.Title, i+1),
			SourceType:  store.SourceQuizQuestion,
			Visibility:  string(content.VisibilityPublic),
			OwnerID:     contentID,
			Category:    item.Category,
			CreatedAt:   createdAt,
			ContentHash: hash,
		})
	}
	return chunks
}

// uniqueSubID returns the sub-item's own id, or "q<position>" when it has
// none, suffixed with its position until it is unused.
func uniqueSubID(id string, i int, taken map[string]bool) string {
	pos := strconv.Itoa(i + 1)
	if id == "" {
		id = "q" + pos
	}
	for taken[id] {
		id += "-" + pos
	}
	taken[id] = true
	return id
}

func metaText(item *content.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	fmt.Fprintf(&b, "Description: %s\n", orDefault(item.Description, noDescription))
	fmt.Fprintf(&b, "Category: %s\n", orDefault(item.Category, noCategory))
	fmt.Fprintf(&b, "Difficulty: %s", orDefault(item.Difficulty, noDifficulty))
	if len(item.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(item.Tags, ", "))
	}
	return b.String()
}

func subItemText(sub *content.SubItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s", sub.Question)
	if len(sub.Options) > 0 {
		b.WriteString("\nOptions:")
		for i, opt := range sub.Options {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, opt)
		}
	}
	if answer := correctAnswer(sub); answer != "" {
		fmt.Fprintf(&b, "\nCorrect answer: %s", answer)
	}
	if sub.Explanation != "" {
		fmt.Fprintf(&b, "\nExplanation: %s", sub.Explanation)
	}
	return b.String()
}

// correctAnswer resolves a zero-based option index to the option text.
// Anything else is taken literally.
func correctAnswer(sub *content.SubItem) string {
	if n, err := strconv.Atoi(strings.TrimSpace(sub.CorrectAnswer)); err == nil && n >= 0 && n < len(sub.Options) {
		return sub.Options[n]
	}
	return sub.CorrectAnswer
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
