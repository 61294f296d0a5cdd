package storage

import "strings"

// pairItem is one underlying record as seen by the pair resolver. Backends
// mark userMessage only on records their readers would surface as real user
// prompts; tool-result carriers and meta records stay false so they travel
// with the pair they follow.
type pairItem struct {
	userMessage bool
	id          string
	content     string
}

// pairRange locates the [start, end) span of records forming one
// user/assistant pair: the user record plus everything that follows it up to
// the next user record or end of session. The user record is matched by id
// first; when no record carries the id and fallbackContent is non-empty, the
// first user record with equal trimmed content anchors the pair instead.
func pairRange(items []pairItem, userID, fallbackContent string) (start, end int, ok bool) {
	start = -1
	for i, it := range items {
		if it.userMessage && it.id == userID {
			start = i
			break
		}
	}
	if start < 0 {
		fallback := strings.TrimSpace(fallbackContent)
		if fallback != "" {
			for i, it := range items {
				if it.userMessage && strings.TrimSpace(it.content) == fallback {
					start = i
					break
				}
			}
		}
	}
	if start < 0 {
		return 0, 0, false
	}

	end = len(items)
	for i := start + 1; i < len(items); i++ {
		if items[i].userMessage {
			end = i
			break
		}
	}
	return start, end, true
}
