package repository

import (
	"time"

	"github.com/jask/tesouraria/internal/match"
)

// StatementStatus is the reconciliation state of a bank statement line.
type StatementStatus string

const (
	StatementUnmatched    StatementStatus = "unmatched"
	StatementMatched1to1  StatementStatus = "matched_1to1"
	StatementMatchedBatch StatementStatus = "matched_batch"
	StatementMatchedSplit StatementStatus = "matched_split"
)

// StatementStatusFor returns the status a statement line takes when linked by shape.
func StatementStatusFor(shape match.Shape) StatementStatus {
	switch shape {
	case match.ShapeBatch:
		return StatementMatchedBatch
	case match.ShapeSplit:
		return StatementMatchedSplit
	default:
		return StatementMatched1to1
	}
}

// SuggestionStatus is the lifecycle state of a suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
	// SuggestionVoided marks an accepted suggestion reversed by undo.
	SuggestionVoided SuggestionStatus = "voided"
)

// SessionStatus is the state of a counting session.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCounting  SessionStatus = "counting"
	SessionValidated SessionStatus = "validated"
	SessionDivergent SessionStatus = "divergent"
	SessionRejected  SessionStatus = "rejected"
	SessionClosed    SessionStatus = "closed"
)

// Live reports whether the session still holds its identity key.
func (s SessionStatus) Live() bool {
	switch s {
	case SessionOpen, SessionCounting, SessionValidated, SessionDivergent:
		return true
	}
	return false
}

// StatementLine represents a statement_lines row (extrato).
type StatementLine struct {
	ID          string
	OrgID       string
	AccountID   string
	Date        time.Time
	AmountCents int64
	Description string
	Status      StatementStatus
	CreatedAt   time.Time
}

// Transaction represents a transactions row. ReconciledSuggestionID is nil
// while the transaction is unreconciled.
type Transaction struct {
	ID                     string
	OrgID                  string
	AccountID              string
	Date                   time.Time
	AmountCents            int64
	Description            string
	Category               *string
	EventID                *string
	SourceSessionID        *string
	ReconciledSuggestionID *string
	CreatedAt              time.Time
}

// Reconciled reports whether an accepted suggestion currently links the transaction.
func (t Transaction) Reconciled() bool { return t.ReconciledSuggestionID != nil }

// Scope bounds a generation pass. An empty AccountID spans every account of the org.
type Scope struct {
	OrgID       string
	AccountID   string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Suggestion represents a suggestions row.
type Suggestion struct {
	ID             string
	Scope          Scope
	Shape          match.Shape
	StatementIDs   []string
	TransactionIDs []string
	Score          float64
	Features       match.Features
	Status         SuggestionStatus
	DecidedBy      *string
	DecidedAt      *time.Time
	Reason         *string
	CreatedAt      time.Time
}

// Link represents one (statement line, transaction) pair of an accepted suggestion.
type Link struct {
	ID              string
	SuggestionID    string
	StatementLineID string
	TransactionID   string
	Shape           match.Shape
	CreatedAt       time.Time
}

// CountingSession represents a counting_sessions row.
type CountingSession struct {
	ID             string
	OrgID          string
	BranchID       string
	ServiceDate    time.Time
	Period         string
	EventID        *string
	Status         SessionStatus
	VarianceCents  *int64
	RejectedReason *string
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionKey is the identity of a live counting session.
type SessionKey struct {
	OrgID       string
	BranchID    string
	ServiceDate time.Time
	Period      string
}

// CountSubmission is one counter's tally for a session.
type CountSubmission struct {
	ID          string
	SessionID   string
	CounterID   string
	Seq         int
	Values      map[string]int64 // category -> cents
	DiscardedAt *time.Time
	CreatedAt   time.Time
}

// CountCategory is a tally bucket (oferta, dizimo, ...).
type CountCategory struct {
	ID        string
	Name      string
	SortOrder int
}

// AuditEntry records who did what to which entity.
type AuditEntry struct {
	ID         string
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	Reason     string
	CreatedAt  time.Time
}
