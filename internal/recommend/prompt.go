package recommend

import (
	"fmt"
	"strings"
)

// systemPrompt holds the instructions sent with every recommendation request.
const systemPrompt = `You are a film and television curator recommending titles for one viewer of a home media server.

Rules:

- Recommend titles the viewer has not already watched. The watch history below lists what they have seen, with favorites marked.

- Prefer well-known, released titles that can be found on TMDB by exact title and year.

- "type" is "movie" or "series".

- Order the list from strongest to weakest recommendation.

You must respond ONLY with a JSON object like: {"items": [{"title": "Heat", "year": 1995, "type": "movie", "reason": "short explanation"}]}`

func userPrompt(history []HistoryEntry, request string, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommend %d titles.\n", limit)
	if request = strings.TrimSpace(request); request != "" {
		fmt.Fprintf(&b, "\nCurator request: %s\n", request)
	}
	if len(history) == 0 {
		b.WriteString("\nThe viewer has no watch history yet; recommend broadly acclaimed titles.\n")
		return b.String()
	}
	b.WriteString("\nWatch history (most recent first):\n")
	for _, h := range history {
		b.WriteString("- ")
		b.WriteString(h.Title)
		if h.Year > 0 {
			fmt.Fprintf(&b, " (%d)", h.Year)
		}
		if h.ItemType != "" {
			fmt.Fprintf(&b, " [%s]", strings.ToLower(string(h.ItemType)))
		}
		if h.Favorite {
			b.WriteString(" *favorite*")
		}
		b.WriteString("\n")
	}
	return b.String()
}
