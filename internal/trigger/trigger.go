// Package trigger turns content changes into queue tasks.
package trigger

import (
	"github.com/Aman-CERP/quizrag/internal/content"
	"github.com/Aman-CERP/quizrag/internal/index"
	"github.com/Aman-CERP/quizrag/internal/queue"
)

// Classify maps the change from before to after into at most one task
// payload. A nil before is a new item and a nil after is a deletion.
// ok is false when the change does not affect the index.
//
// Only approval transitions and edits of approved items matter. Edits
// that touch sub-items alone are not picked up; a rebuild covers those.
func Classify(before, after *content.Item) (p queue.Payload, ok bool) {
	wasLive := before.Publishable()
	isLive := after.Publishable()

	switch {
	case after == nil:
		if wasLive {
			return queue.DeletePayload{Title: before.Title}, true
		}
	case !wasLive && isLive:
		return queue.CreatePayload{New: after, Previous: before}, true
	case wasLive && !isLive:
		return queue.DeletePayload{Title: before.Title}, true
	case wasLive && isLive:
		if index.ImportantFieldsChanged(before, after) {
			return queue.UpdatePayload{Old: before, New: after}, true
		}
	}
	return nil, false
}
