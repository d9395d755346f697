package session

import (
	"parley/internal/provider"
)

const DefaultCompressRetain = 10

// CompressionResult is returned verbatim to clients.
type CompressionResult struct {
	TokensBefore     int     `json:"tokensBeforeCompression"`
	TokensAfter      int     `json:"tokensAfterCompression"`
	CompressionRatio float64 `json:"compressionRatio"`
	MessagesRemoved  int     `json:"messagesRemoved"`
	MessagesRetained int     `json:"messagesRetained"`
}

// Compactor reduces a history to its system turns plus the most recent
// Retain non-system turns. Relative order is preserved.
type Compactor struct {
	Retain int
}

func NewCompactor(retain int) Compactor {
	if retain <= 0 {
		retain = DefaultCompressRetain
	}
	return Compactor{Retain: retain}
}

// EstimateTokens is a character count of turn contents.
func EstimateTokens(turns []provider.Turn) int {
	total := 0
	for _, turn := range turns {
		total += len(turn.Content)
	}
	return total
}

func (c Compactor) Compact(turns []provider.Turn) (kept, removed []provider.Turn, result CompressionResult) {
	nonSystem := 0
	for _, turn := range turns {
		if turn.Role != provider.RoleSystem {
			nonSystem++
		}
	}
	drop := nonSystem - c.Retain
	kept = make([]provider.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role != provider.RoleSystem && drop > 0 {
			drop--
			removed = append(removed, turn)
			continue
		}
		kept = append(kept, turn)
	}

	result = CompressionResult{
		TokensBefore:     EstimateTokens(turns),
		TokensAfter:      EstimateTokens(kept),
		MessagesRemoved:  len(removed),
		MessagesRetained: len(kept),
		CompressionRatio: 1,
	}
	if result.TokensBefore > 0 {
		result.CompressionRatio = float64(result.TokensAfter) / float64(result.TokensBefore)
	}
	return kept, removed, result
}
