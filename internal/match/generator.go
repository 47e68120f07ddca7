package match

import (
	"math"
	"sort"
	"time"
)

// Input is one generation pass over already-filtered unmatched rows.
type Input struct {
	Statements   []Row
	Transactions []Row
	ScoreMin     float64
	// Exclude holds PairingKey values that must not be proposed.
	Exclude map[string]bool
}

// Generator proposes one-to-one, batch and split candidates.
type Generator struct {
	cfg    Config
	scorer *Scorer
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg, scorer: NewScorer(cfg)}
}

// Scorer exposes the similarity scorer the generator uses.
func (g *Generator) Scorer() *Scorer { return g.scorer }

// Generate returns candidates scoring at least in.ScoreMin, best first.
// Zero-amount rows never take part. An empty result is not an error.
func (g *Generator) Generate(in Input) []Candidate {
	stmts := nonZero(in.Statements)
	txns := nonZero(in.Transactions)

	var out []Candidate
	eligible := func(c Candidate) bool {
		return c.Score >= in.ScoreMin && !in.Exclude[c.Key()]
	}
	keep := func(c Candidate) {
		if eligible(c) {
			out = append(out, c)
		}
	}

	for _, s := range stmts {
		for _, t := range txns {
			if c, ok := g.oneToOne(s, t); ok {
				keep(c)
			}
		}
	}
	for _, t := range txns {
		if c, ok := g.group(ShapeBatch, t, stmts, eligible); ok {
			keep(c)
		}
	}
	for _, s := range stmts {
		if c, ok := g.group(ShapeSplit, s, txns, eligible); ok {
			keep(c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if shapeRank(a.Shape) != shapeRank(b.Shape) {
			return shapeRank(a.Shape) < shapeRank(b.Shape)
		}
		return a.Key() < b.Key()
	})
	return out
}

func (g *Generator) oneToOne(s, t Row) (Candidate, bool) {
	if !compatible(s, t) {
		return Candidate{}, false
	}
	delta := abs64(s.AmountCents - t.AmountCents)
	if delta > g.cfg.AmountToleranceCents {
		return Candidate{}, false
	}
	days := daysBetween(s.Date, t.Date)
	if days > g.cfg.DateWindowDays {
		return Candidate{}, false
	}
	f := Features{
		DateDeltaDays:         float64(days),
		AmountDeltaCents:      delta,
		DescriptionSimilarity: g.scorer.DescriptionSimilarity(s.Description, t.Description),
	}
	return Candidate{
		Shape:          ShapeOneToOne,
		StatementIDs:   []string{s.ID},
		TransactionIDs: []string{t.ID},
		Score:          g.scorer.Score(ShapeOneToOne, f, 1),
		Features:       f,
		DateSpreadDays: days,
	}, true
}

// group searches rows for a subset of 2..MaxGroupSize members summing to the
// anchor's amount. For ShapeBatch the anchor is a transaction and rows are
// statement lines; for ShapeSplit the roles swap. Subsets failing eligible are
// skipped, so the first size with an eligible subset decides.
func (g *Generator) group(shape Shape, anchor Row, rows []Row, eligible func(Candidate) bool) (Candidate, bool) {
	pool := g.pool(anchor, rows)
	if len(pool) < 2 {
		return Candidate{}, false
	}
	amounts := make([]int64, len(pool))
	for i, r := range pool {
		amounts[i] = abs64(r.AmountCents)
	}
	search := newSubsetSearch(amounts, abs64(anchor.AmountCents), g.cfg.AmountToleranceCents, g.cfg.MaxSearchNodes)

	maxK := g.cfg.MaxGroupSize
	if maxK > len(pool) {
		maxK = len(pool)
	}
	// smaller k wins outright, so stop at the first size with an eligible solution
	for k := 2; k <= maxK; k++ {
		subsets := search.find(k)
		if len(subsets) == 0 {
			if search.exhausted() {
				break
			}
			continue
		}
		var best Candidate
		found := false
		for _, idx := range subsets {
			members := make([]Row, len(idx))
			for i, j := range idx {
				members[i] = pool[j]
			}
			c := g.groupCandidate(shape, anchor, members)
			if !eligible(c) {
				continue
			}
			if !found || betterGroup(c, best) {
				best, found = c, true
			}
		}
		if found {
			return best, true
		}
	}
	return Candidate{}, false
}

// pool returns rows eligible to group with anchor, nearest in date first,
// capped at MaxGroupCandidates.
func (g *Generator) pool(anchor Row, rows []Row) []Row {
	limit := abs64(anchor.AmountCents) + g.cfg.AmountToleranceCents
	var pool []Row
	for _, r := range rows {
		if !compatible(anchor, r) || abs64(r.AmountCents) > limit {
			continue
		}
		if daysBetween(anchor.Date, r.Date) > g.cfg.DateWindowDays {
			continue
		}
		pool = append(pool, r)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		di, dj := daysBetween(anchor.Date, pool[i].Date), daysBetween(anchor.Date, pool[j].Date)
		if di != dj {
			return di < dj
		}
		return pool[i].ID < pool[j].ID
	})
	if len(pool) > g.cfg.MaxGroupCandidates {
		pool = pool[:g.cfg.MaxGroupCandidates]
	}
	return pool
}

func (g *Generator) groupCandidate(shape Shape, anchor Row, members []Row) Candidate {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].Date.Equal(members[j].Date) {
			return members[i].Date.Before(members[j].Date)
		}
		return members[i].ID < members[j].ID
	})
	var sum int64
	var dayTotal, simTotal float64
	minDate, maxDate := anchor.Date, anchor.Date
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
		sum += m.AmountCents
		dayTotal += float64(daysBetween(anchor.Date, m.Date))
		simTotal += g.scorer.DescriptionSimilarity(anchor.Description, m.Description)
		if m.Date.Before(minDate) {
			minDate = m.Date
		}
		if m.Date.After(maxDate) {
			maxDate = m.Date
		}
	}
	n := float64(len(members))
	f := Features{
		DateDeltaDays:         dayTotal / n,
		AmountDeltaCents:      abs64(sum - anchor.AmountCents),
		DescriptionSimilarity: simTotal / n,
	}
	c := Candidate{
		Shape:          shape,
		Score:          g.scorer.Score(shape, f, len(members)),
		Features:       f,
		DateSpreadDays: daysBetween(minDate, maxDate),
	}
	if shape == ShapeBatch {
		c.StatementIDs, c.TransactionIDs = ids, []string{anchor.ID}
	} else {
		c.StatementIDs, c.TransactionIDs = []string{anchor.ID}, ids
	}
	return c
}

// betterGroup orders same-size groups: smaller date spread, then higher score.
func betterGroup(a, b Candidate) bool {
	if a.DateSpreadDays != b.DateSpreadDays {
		return a.DateSpreadDays < b.DateSpreadDays
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Key() < b.Key()
}

func shapeRank(s Shape) int {
	switch s {
	case ShapeOneToOne:
		return 0
	case ShapeBatch:
		return 1
	default:
		return 2
	}
}

// compatible requires the same account and the same direction of money.
func compatible(a, b Row) bool {
	if a.AccountID != b.AccountID {
		return false
	}
	return (a.AmountCents > 0) == (b.AmountCents > 0)
}

func nonZero(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.AmountCents != 0 {
			out = append(out, r)
		}
	}
	return out
}

func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(math.Abs(math.Round(da.Sub(db).Hours() / 24)))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
