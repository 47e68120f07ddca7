package match

import (
	"math"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// tokens with a normalized edit ratio at or above this count as the same word
const tokenMatchRatio = 0.8

// Scorer computes match scores from amount, date and description features.
// It is safe for concurrent use.
type Scorer struct {
	cfg   Config
	noise map[string]bool
}

func NewScorer(cfg Config) *Scorer {
	noise := make(map[string]bool, len(cfg.NoiseTokens))
	for _, t := range cfg.NoiseTokens {
		for _, n := range normalizeTokens(t) {
			noise[n] = true
		}
	}
	return &Scorer{cfg: cfg, noise: noise}
}

// Score combines features into [0,1]. groupSize is the number of rows on the
// grouped side of the pairing (1 for one-to-one).
func (s *Scorer) Score(shape Shape, f Features, groupSize int) float64 {
	w := s.cfg.Weights
	score := w.Amount*s.AmountExactness(f.AmountDeltaCents) +
		w.Date*s.DateProximity(f.DateDeltaDays) +
		w.Description*f.DescriptionSimilarity +
		w.Shape*s.ShapeFactor(shape, groupSize)
	return clamp01(score)
}

// AmountExactness is 1 for an exact amount and falls linearly to 0.5 at the tolerance edge.
func (s *Scorer) AmountExactness(deltaCents int64) float64 {
	if deltaCents < 0 {
		deltaCents = -deltaCents
	}
	if deltaCents == 0 {
		return 1
	}
	tol := s.cfg.AmountToleranceCents
	if tol <= 0 || deltaCents > tol {
		return 0
	}
	return 1 - 0.5*float64(deltaCents)/float64(tol)
}

// DateProximity decays by half every DateHalfLifeDays.
func (s *Scorer) DateProximity(days float64) float64 {
	days = math.Abs(days)
	if s.cfg.DateHalfLifeDays <= 0 {
		if days == 0 {
			return 1
		}
		return 0
	}
	return math.Pow(0.5, days/s.cfg.DateHalfLifeDays)
}

// ShapeFactor rates grouping certainty: 1 for one-to-one, lower for larger groups.
func (s *Scorer) ShapeFactor(shape Shape, groupSize int) float64 {
	if shape == ShapeOneToOne || groupSize <= 1 {
		return 1
	}
	return clamp01(1 - s.cfg.GroupPenalty*float64(groupSize-1))
}

// DescriptionSimilarity compares two free-text descriptions in [0,1], ignoring
// case, accents, punctuation and configured noise tokens.
func (s *Scorer) DescriptionSimilarity(a, b string) float64 {
	ta, tb := s.tokens(a), s.tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		na, nb := strings.Join(normalizeTokens(a), " "), strings.Join(normalizeTokens(b), " ")
		if na == "" || nb == "" {
			return 0
		}
		return editRatio(na, nb)
	}
	small, large := ta, tb
	if len(small) > len(large) {
		small, large = large, small
	}
	var matched float64
	var hits int
	for _, t := range small {
		best := 0.0
		for _, u := range large {
			if r := editRatio(t, u); r > best {
				best = r
			}
		}
		if best >= tokenMatchRatio {
			matched += best
			hits++
		}
	}
	overlap := matched / float64(len(small))
	dice := 2 * float64(hits) / float64(len(ta)+len(tb))
	return clamp01(0.7*overlap + 0.3*dice)
}

func (s *Scorer) tokens(text string) []string {
	var out []string
	for _, t := range normalizeTokens(text) {
		if len(t) < 2 || s.noise[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// normalizeTokens upper-cases, strips accents and splits on anything that is
// not a letter or digit.
func normalizeTokens(text string) []string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToUpper(folded)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func editRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
