// Package match scores and proposes pairings between bank statement lines and
// ledger transactions. It performs no I/O; callers load rows and persist results.
package match

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Shape is the cardinality of a pairing.
type Shape string

const (
	// ShapeOneToOne pairs one statement line with one transaction.
	ShapeOneToOne Shape = "one_to_one"
	// ShapeBatch pairs several statement lines with one transaction.
	ShapeBatch Shape = "batch"
	// ShapeSplit pairs one statement line with several transactions.
	ShapeSplit Shape = "split"
)

// Row is the matcher's view of a ledger row. Amounts are signed cents:
// positive is a credit/inflow, negative a debit/outflow.
type Row struct {
	ID          string
	AccountID   string
	Date        time.Time
	AmountCents int64
	Description string
}

// Features is the per-candidate breakdown behind a score.
type Features struct {
	DateDeltaDays         float64
	AmountDeltaCents      int64
	DescriptionSimilarity float64
}

// Candidate is a scored proposed pairing. Id lists keep search order.
type Candidate struct {
	Shape          Shape
	StatementIDs   []string
	TransactionIDs []string
	Score          float64
	Features       Features
	DateSpreadDays int
}

// Key identifies the exact row sets of the candidate.
func (c Candidate) Key() string { return PairingKey(c.StatementIDs, c.TransactionIDs) }

// PairingKey builds an order-independent key for a pair of row sets.
func PairingKey(statementIDs, transactionIDs []string) string {
	s := append([]string(nil), statementIDs...)
	t := append([]string(nil), transactionIDs...)
	sort.Strings(s)
	sort.Strings(t)
	return strings.Join(s, ",") + "|" + strings.Join(t, ",")
}

// Weights combine the score factors. They must sum to 1.
type Weights struct {
	Amount      float64
	Date        float64
	Description float64
	Shape       float64
}

// Config tunes tolerances and search bounds.
type Config struct {
	AmountToleranceCents int64
	DateWindowDays       int
	// MaxGroupSize bounds k (batch) and m (split).
	MaxGroupSize int
	// MaxGroupCandidates caps the rows considered around one anchor row.
	MaxGroupCandidates int
	// MaxSearchNodes caps subset enumeration steps per anchor row.
	MaxSearchNodes   int
	DateHalfLifeDays float64
	Weights          Weights
	// GroupPenalty is subtracted from the shape factor per extra grouped row.
	GroupPenalty float64
	// NoiseTokens are bank boilerplate words ignored by description similarity.
	NoiseTokens []string
}

// DefaultScoreMin is the floor below which candidates are discarded.
const DefaultScoreMin = 0.7

// DefaultConfig returns the stock tolerances.
func DefaultConfig() Config {
	return Config{
		AmountToleranceCents: 0,
		DateWindowDays:       5,
		MaxGroupSize:         10,
		MaxGroupCandidates:   24,
		MaxSearchNodes:       200000,
		DateHalfLifeDays:     3,
		Weights:              Weights{Amount: 0.45, Date: 0.25, Description: 0.15, Shape: 0.15},
		GroupPenalty:         0.1,
		NoiseTokens: []string{
			"PIX", "TED", "DOC", "TEF", "TRANSF", "TRANSFERENCIA", "DEP", "DEPOSITO",
			"PGTO", "PAGAMENTO", "RECEBIDO", "RECEBIMENTO", "ENVIADO", "CRED", "DEB",
		},
	}
}

// Validate rejects configurations the search cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.AmountToleranceCents < 0 {
		errs = append(errs, errors.New("amount tolerance must not be negative"))
	}
	if c.DateWindowDays < 0 {
		errs = append(errs, errors.New("date window must not be negative"))
	}
	if c.MaxGroupSize < 2 {
		errs = append(errs, fmt.Errorf("max group size must be at least 2, got %d", c.MaxGroupSize))
	}
	if c.MaxGroupCandidates < c.MaxGroupSize {
		errs = append(errs, fmt.Errorf("max group candidates (%d) must be >= max group size (%d)", c.MaxGroupCandidates, c.MaxGroupSize))
	}
	if c.MaxSearchNodes <= 0 {
		errs = append(errs, errors.New("max search nodes must be positive"))
	}
	if c.GroupPenalty < 0 || c.GroupPenalty > 1 {
		errs = append(errs, fmt.Errorf("group penalty must be within [0,1], got %v", c.GroupPenalty))
	}
	w := c.Weights
	if w.Amount < 0 || w.Date < 0 || w.Description < 0 || w.Shape < 0 {
		errs = append(errs, errors.New("weights must not be negative"))
	}
	if sum := w.Amount + w.Date + w.Description + w.Shape; sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Errorf("weights must sum to 1, got %.3f", sum))
	}
	return errors.Join(errs...)
}
