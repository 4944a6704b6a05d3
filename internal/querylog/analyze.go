package querylog

import "sort"

// Token estimates per message, used to show what classification saves.
const (
	TokensClassification = 100
	TokensConversation   = 500
)

type Stats struct {
	TotalQueries    int            `json:"total_queries"`
	FilteredQueries int            `json:"filtered_queries"`
	LLMQueries      int            `json:"llm_queries"`
	FilterRate      float64        `json:"filter_rate"`
	Sessions        int            `json:"sessions"`
	Categories      map[string]int `json:"categories"`
	// TokensBefore is the estimate had every message gone to the persona
	// model; TokensAfter adds classification and removes filtered messages.
	TokensBefore   int     `json:"tokens_before"`
	TokensAfter    int     `json:"tokens_after"`
	TokensSaved    int     `json:"tokens_saved"`
	TokenChangePct float64 `json:"token_change_pct"`
}

func Analyze(entries []Entry) Stats {
	stats := Stats{Categories: map[string]int{}}
	if len(entries) == 0 {
		return stats
	}

	sessions := map[string]struct{}{}
	for _, e := range entries {
		stats.TotalQueries++
		if e.FilteredPreLLM {
			stats.FilteredQueries++
			category := e.FilterCategory
			if category == "" {
				category = "unknown"
			}
			stats.Categories[category]++
		}
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
	}

	stats.LLMQueries = stats.TotalQueries - stats.FilteredQueries
	stats.Sessions = len(sessions)
	stats.FilterRate = float64(stats.FilteredQueries) / float64(stats.TotalQueries) * 100

	stats.TokensBefore = stats.TotalQueries * TokensConversation
	stats.TokensAfter = stats.FilteredQueries*TokensClassification + stats.LLMQueries*(TokensClassification+TokensConversation)
	stats.TokensSaved = stats.TokensBefore - stats.TokensAfter
	stats.TokenChangePct = float64(stats.TokensAfter-stats.TokensBefore) / float64(stats.TokensBefore) * 100

	return stats
}

// RecentFiltered returns up to n filtered entries, newest first.
func RecentFiltered(entries []Entry, n int) []Entry {
	out, _ := StatusFilter{Mode: FilteredOnly}.Apply(entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
