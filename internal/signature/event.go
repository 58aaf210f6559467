package signature

import "github.com/jwalitptl/repo-tracker/internal/model"

// Event hashes (kind, timestamp, url). Title, author and metadata are left
// out so a re-fetched change with different wording maps to the same entry.
func Event(e model.DetectedEvent) (string, error) {
	return Hash(map[string]interface{}{
		"kind":      string(e.Kind),
		"timestamp": e.Timestamp,
		"url":       e.URL,
	})
}
