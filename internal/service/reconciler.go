package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jask/tesouraria/internal/database"
	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/logging"
	"github.com/jask/tesouraria/internal/match"
)

// Reconciler generates suggestions and commits operator decisions on them.
type Reconciler struct {
	DB        *sql.DB
	Generator *match.Generator
	// ScoreMin applies when a caller passes ConfiguredFloor.
	ScoreMin float64
	// SuppressRejected keeps a rejected pairing from being proposed again.
	SuppressRejected bool
	Log              logrus.FieldLogger
	Now              func() time.Time
}

// NewReconciler builds a Reconciler with the given matcher settings.
func NewReconciler(db *sql.DB, cfg match.Config, scoreMin float64, suppressRejected bool, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		DB:               db,
		Generator:        match.NewGenerator(cfg),
		ScoreMin:         scoreMin,
		SuppressRejected: suppressRejected,
		Log:              logging.OrDiscard(log),
		Now:              database.Now,
	}
}

// ConfiguredFloor asks Generate and Regenerate for the Reconciler's ScoreMin.
// Any floor within [0,1], zero included, is used as given.
const ConfiguredFloor = -1.0

// ReleaseCounts is the breakdown returned by Desconciliar.
type ReleaseCounts struct {
	OneToOneReleased     int `json:"oneToOneReleased"`
	BatchLinesReleased   int `json:"batchLinesReleased"`
	SplitLinesReleased   int `json:"splitLinesReleased"`
	BatchesRemoved       int `json:"batchesRemoved"`
	SplitsRemoved        int `json:"splitsRemoved"`
	TransactionsReleased int `json:"transactionsReleased"`
}

// Generate proposes suggestions for the scope without persisting them.
// A negative scoreMin, such as ConfiguredFloor, selects the configured default.
func (r *Reconciler) Generate(ctx context.Context, scope repository.Scope, scoreMin float64) ([]repository.Suggestion, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	floor, err := r.scoreMin(scoreMin)
	if err != nil {
		return nil, err
	}
	return r.generate(ctx, repository.NewStore(r.DB), normalizeScope(scope), floor)
}

// Regenerate replaces the pending suggestions of the scope with a fresh batch.
func (r *Reconciler) Regenerate(ctx context.Context, scope repository.Scope, scoreMin float64) ([]repository.Suggestion, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	floor, err := r.scoreMin(scoreMin)
	if err != nil {
		return nil, err
	}
	scope = normalizeScope(scope)
	start := time.Now()
	var out []repository.Suggestion
	var deleted int64
	err = database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		var err error
		if deleted, err = store.Suggestions.DeletePendingInScope(ctx, scope); err != nil {
			return fmt.Errorf("delete pending suggestions: %w", err)
		}
		if out, err = r.generate(ctx, store, scope, floor); err != nil {
			return err
		}
		for _, s := range out {
			if err := store.Suggestions.Add(ctx, s); err != nil {
				return fmt.Errorf("insert suggestion: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log().WithFields(logrus.Fields{
		logging.FieldOrgID:     scope.OrgID,
		logging.FieldAccountID: scope.AccountID,
		logging.FieldCount:     len(out),
		"deleted":              deleted,
		logging.FieldDuration:  time.Since(start).Milliseconds(),
	}).Info("suggestions regenerated")
	return out, nil
}

// ListSuggestions returns stored suggestions, best score first.
func (r *Reconciler) ListSuggestions(ctx context.Context, f repository.SuggestionFilter) ([]repository.Suggestion, error) {
	if f.OrgID == "" {
		return nil, fmt.Errorf("org id is required: %w", ErrInvalidScope)
	}
	out, err := repository.NewSuggestionRepo(r.DB).List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	return out, nil
}

func (r *Reconciler) generate(ctx context.Context, store *repository.Store, scope repository.Scope, scoreMin float64) ([]repository.Suggestion, error) {
	filter := repository.LedgerFilter{
		OrgID:     scope.OrgID,
		AccountID: scope.AccountID,
		From:      scope.PeriodStart,
		To:        scope.PeriodEnd,
	}
	stmts, err := store.Statements.ListUnmatched(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list unmatched statement lines: %w", err)
	}
	txns, err := store.Transactions.ListUnreconciled(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled transactions: %w", err)
	}

	var exclude map[string]bool
	if r.SuppressRejected {
		rejected, err := store.Suggestions.RejectedPairings(ctx, scope.OrgID)
		if err != nil {
			return nil, fmt.Errorf("load rejected pairings: %w", err)
		}
		exclude = make(map[string]bool, len(rejected))
		for _, p := range rejected {
			exclude[match.PairingKey(p[0], p[1])] = true
		}
	}

	in := match.Input{ScoreMin: scoreMin, Exclude: exclude}
	accountOf := make(map[string]string, len(stmts))
	for _, s := range stmts {
		in.Statements = append(in.Statements, match.Row{ID: s.ID, AccountID: s.AccountID, Date: s.Date, AmountCents: s.AmountCents, Description: s.Description})
		accountOf[s.ID] = s.AccountID
	}
	for _, t := range txns {
		in.Transactions = append(in.Transactions, match.Row{ID: t.ID, AccountID: t.AccountID, Date: t.Date, AmountCents: t.AmountCents, Description: t.Description})
	}

	cands := r.Generator.Generate(in)
	out := make([]repository.Suggestion, 0, len(cands))
	for _, c := range cands {
		sc := scope
		if sc.AccountID == "" {
			sc.AccountID = accountOf[c.StatementIDs[0]]
		}
		out = append(out, repository.Suggestion{
			ID:             uuid.NewString(),
			Scope:          sc,
			Shape:          c.Shape,
			StatementIDs:   c.StatementIDs,
			TransactionIDs: c.TransactionIDs,
			Score:          c.Score,
			Features:       c.Features,
			Status:         repository.SuggestionPending,
		})
	}
	return out, nil
}

// Accept links the suggestion's rows. It fails with ErrConflict when any row was
// linked by another accepted suggestion since generation.
func (r *Reconciler) Accept(ctx context.Context, suggestionID, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: "actor", Reason: "required"}
	}
	var shape match.Shape
	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		s, err := store.Suggestions.Get(ctx, suggestionID)
		if err != nil {
			return fmt.Errorf("load suggestion: %w", err)
		}
		if s == nil {
			return notFound("suggestion", suggestionID)
		}
		if s.Status != repository.SuggestionPending {
			return &StateError{Entity: "suggestion", ID: s.ID, State: string(s.Status), Op: "accept"}
		}
		shape = s.Shape

		others, err := store.Suggestions.AcceptedReferencing(ctx, s.StatementIDs, s.TransactionIDs, s.ID)
		if err != nil {
			return fmt.Errorf("check accepted links: %w", err)
		}
		if len(others) > 0 {
			return fmt.Errorf("suggestion %s overlaps accepted %s: %w", s.ID, strings.Join(others, ","), ErrConflict)
		}

		status := repository.StatementStatusFor(s.Shape)
		for _, id := range s.StatementIDs {
			n, err := store.Statements.Claim(ctx, id, status)
			if err != nil {
				return fmt.Errorf("claim statement line %s: %w", id, err)
			}
			if n != 1 {
				return fmt.Errorf("statement line %s is no longer unmatched: %w", id, ErrConflict)
			}
		}
		for _, id := range s.TransactionIDs {
			n, err := store.Transactions.Claim(ctx, id, s.ID)
			if err != nil {
				return fmt.Errorf("claim transaction %s: %w", id, err)
			}
			if n != 1 {
				return fmt.Errorf("transaction %s is already reconciled: %w", id, ErrConflict)
			}
		}
		for _, sid := range s.StatementIDs {
			for _, tid := range s.TransactionIDs {
				l := repository.Link{ID: uuid.NewString(), SuggestionID: s.ID, StatementLineID: sid, TransactionID: tid, Shape: s.Shape}
				if err := store.Links.Add(ctx, l); err != nil {
					return fmt.Errorf("insert link: %w", err)
				}
			}
		}
		n, err := store.Suggestions.Transition(ctx, s.ID, repository.SuggestionPending, repository.SuggestionAccepted, actor, "", r.now())
		if err != nil {
			return fmt.Errorf("mark suggestion accepted: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("suggestion %s decided concurrently: %w", s.ID, ErrConflict)
		}
		return audit(ctx, store, "suggestion", s.ID, "accept", actor, "")
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			r.log().WithFields(logrus.Fields{
				logging.FieldSuggestionID: suggestionID,
				logging.FieldActor:        actor,
				logging.FieldError:        err.Error(),
			}).Warn("accept conflict")
		}
		return err
	}
	r.log().WithFields(logrus.Fields{
		logging.FieldSuggestionID: suggestionID,
		logging.FieldActor:        actor,
		logging.FieldShape:        shape,
	}).Info("suggestion accepted")
	return nil
}

// Reject marks a pending suggestion rejected. The ledger is not touched.
func (r *Reconciler) Reject(ctx context.Context, suggestionID, actor, reason string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: "actor", Reason: "required"}
	}
	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		s, err := store.Suggestions.Get(ctx, suggestionID)
		if err != nil {
			return fmt.Errorf("load suggestion: %w", err)
		}
		if s == nil {
			return notFound("suggestion", suggestionID)
		}
		if s.Status != repository.SuggestionPending {
			return &StateError{Entity: "suggestion", ID: s.ID, State: string(s.Status), Op: "reject"}
		}
		n, err := store.Suggestions.Transition(ctx, s.ID, repository.SuggestionPending, repository.SuggestionRejected, actor, reason, r.now())
		if err != nil {
			return fmt.Errorf("mark suggestion rejected: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("suggestion %s decided concurrently: %w", s.ID, ErrConflict)
		}
		return audit(ctx, store, "suggestion", s.ID, "reject", actor, reason)
	})
	if err != nil {
		return err
	}
	r.log().WithFields(logrus.Fields{
		logging.FieldSuggestionID: suggestionID,
		logging.FieldActor:        actor,
		logging.FieldReason:       reason,
	}).Info("suggestion rejected")
	return nil
}

// Desconciliar reverses every accepted suggestion linking the transaction. Each
// suggestion is voided as a unit, so a split also releases its other transactions.
// Nothing is changed unless every release succeeds.
func (r *Reconciler) Desconciliar(ctx context.Context, transactionID, actor, reason string) (ReleaseCounts, error) {
	var counts ReleaseCounts
	if strings.TrimSpace(actor) == "" {
		return counts, &ValidationError{Field: "actor", Reason: "required"}
	}
	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		t, err := store.Transactions.Get(ctx, transactionID)
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if t == nil {
			return notFound("transaction", transactionID)
		}
		ids, err := store.Links.AcceptedSuggestionsForTransaction(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("load links: %w", err)
		}
		if len(ids) == 0 {
			return &StateError{Entity: "transaction", ID: t.ID, State: "unreconciled", Op: "desconciliar"}
		}
		for _, id := range ids {
			if err := r.void(ctx, store, id, actor, reason, &counts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReleaseCounts{}, err
	}
	r.log().WithFields(logrus.Fields{
		logging.FieldTransactionID: transactionID,
		logging.FieldActor:         actor,
		logging.FieldReason:        reason,
		"released":                 counts,
	}).Info("transaction desconciliada")
	return counts, nil
}

func (r *Reconciler) void(ctx context.Context, store *repository.Store, suggestionID, actor, reason string, counts *ReleaseCounts) error {
	s, err := store.Suggestions.Get(ctx, suggestionID)
	if err != nil {
		return fmt.Errorf("load suggestion: %w", err)
	}
	if s == nil {
		return notFound("suggestion", suggestionID)
	}
	links, err := store.Links.ListBySuggestion(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	seen := map[string]bool{}
	status := repository.StatementStatusFor(s.Shape)
	for _, l := range links {
		if seen[l.StatementLineID] {
			continue
		}
		seen[l.StatementLineID] = true
		n, err := store.Statements.Release(ctx, l.StatementLineID, status)
		if err != nil {
			return fmt.Errorf("release statement line %s: %w", l.StatementLineID, err)
		}
		if n != 1 {
			return fmt.Errorf("statement line %s is not %s: %w", l.StatementLineID, status, ErrConflict)
		}
		switch s.Shape {
		case match.ShapeBatch:
			counts.BatchLinesReleased++
		case match.ShapeSplit:
			counts.SplitLinesReleased++
		default:
			counts.OneToOneReleased++
		}
	}
	n, err := store.Transactions.ReleaseSuggestion(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("release transactions: %w", err)
	}
	counts.TransactionsReleased += int(n)
	if _, err := store.Links.DeleteBySuggestion(ctx, s.ID); err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	n, err = store.Suggestions.Transition(ctx, s.ID, repository.SuggestionAccepted, repository.SuggestionVoided, actor, reason, r.now())
	if err != nil {
		return fmt.Errorf("void suggestion: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("suggestion %s is no longer accepted: %w", s.ID, ErrConflict)
	}
	switch s.Shape {
	case match.ShapeBatch:
		counts.BatchesRemoved++
	case match.ShapeSplit:
		counts.SplitsRemoved++
	}
	return audit(ctx, store, "suggestion", s.ID, "desconciliar", actor, reason)
}

func (r *Reconciler) scoreMin(v float64) (float64, error) {
	if v < 0 {
		v = r.ScoreMin
	}
	if v < 0 || v > 1 {
		return 0, &ValidationError{Field: "score_min", Reason: fmt.Sprintf("must be within [0,1], got %v", v)}
	}
	return v, nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return database.Now()
}

func (r *Reconciler) log() logrus.FieldLogger { return logging.OrDiscard(r.Log) }

func validateScope(s repository.Scope) error {
	switch {
	case strings.TrimSpace(s.OrgID) == "":
		return fmt.Errorf("org id is required: %w", ErrInvalidScope)
	case s.PeriodStart.IsZero() || s.PeriodEnd.IsZero():
		return fmt.Errorf("period start and end are required: %w", ErrInvalidScope)
	case s.PeriodEnd.Before(s.PeriodStart):
		return fmt.Errorf("period ends before it starts: %w", ErrInvalidScope)
	}
	return nil
}

// normalizeScope keys the period on UTC calendar days, matching how ledger dates are stored.
func normalizeScope(s repository.Scope) repository.Scope {
	s.PeriodStart = database.Day(s.PeriodStart)
	s.PeriodEnd = database.Day(s.PeriodEnd)
	return s
}

func audit(ctx context.Context, store *repository.Store, entityType, entityID, action, actor, reason string) error {
	e := repository.AuditEntry{ID: uuid.NewString(), EntityType: entityType, EntityID: entityID, Action: action, Actor: actor, Reason: reason}
	if err := store.Audit.Add(ctx, e); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}
