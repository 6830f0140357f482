package memory

import (
	"unicode/utf8"

	"github.com/easeaico/soullink/internal/types"
)

// MilestoneSalience is the score a window needs before its milestones are kept.
const MilestoneSalience = 0.5

// ComputeSalience calculates a deterministic score in [0,1] from the summary
// signals and the link's mood and intimacy.
func ComputeSalience(summary Summary, link *types.LinkState) float64 {
	score := 0.0

	if summary.Summary != "" {
		score += 0.10
	}

	score += float64(min(len(summary.Facts), 3)) * 0.15
	score += float64(min(len(summary.Milestones), 2)) * 0.20
	score += float64(min(len(summary.Emotions), 2)) * 0.10

	summaryLen := utf8.RuneCountInString(summary.Summary)
	if summaryLen >= 400 {
		score += 0.10
	} else if summaryLen >= 200 {
		score += 0.05
	}

	if link != nil {
		switch link.CurrentMood {
		case "angry", "sad":
			score += 0.10
		case "happy":
			score += 0.05
		}
		switch {
		case link.IntimacyScore <= 20:
			score += 0.05
		case link.IntimacyScore >= 80:
			score += 0.03
		}
	}

	if score != score || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
