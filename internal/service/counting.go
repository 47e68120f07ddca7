package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jask/tesouraria/internal/database"
	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/logging"
	"github.com/jask/tesouraria/internal/money"
)

// DivergentPolicy decides whether a divergent session may be finalized.
type DivergentPolicy string

const (
	// PolicyRequireRecount refuses to finalize until a recount validates.
	PolicyRequireRecount DivergentPolicy = "require_recount"
	// PolicyConferenteOverride lets the conferente finalize with a stated reason.
	PolicyConferenteOverride DivergentPolicy = "conferente_override"
)

// ExpectedTotals derives expected per-category totals for a session from
// already-posted entries. It returns an empty map when nothing is known.
type ExpectedTotals interface {
	ExpectedTotals(ctx context.Context, store *repository.Store, s repository.CountingSession) (map[string]int64, error)
}

// LedgerExpectedTotals sums posted transactions of the session's event by category.
type LedgerExpectedTotals struct{}

func (LedgerExpectedTotals) ExpectedTotals(ctx context.Context, store *repository.Store, s repository.CountingSession) (map[string]int64, error) {
	if s.EventID == nil {
		return nil, nil
	}
	return store.Transactions.SumByCategoryForEvent(ctx, s.OrgID, *s.EventID)
}

// CountingService runs the counting session state machine.
type CountingService struct {
	DB             *sql.DB
	ToleranceCents int64
	Policy         DivergentPolicy
	LookbackDays   int
	Expected       ExpectedTotals
	Log            logrus.FieldLogger
	Now            func() time.Time
}

// OpenRequest identifies the session to open.
type OpenRequest struct {
	OrgID       string
	BranchID    string
	ServiceDate time.Time
	Period      string
	EventID     *string
	Actor       string
}

// Confrontation is the outcome of comparing a session's counts.
type Confrontation struct {
	SessionID          string
	Status             repository.SessionStatus
	VarianceCents      int64
	VarianceByCategory map[string]int64
	// TotalsBySource maps each counter id, plus "expected" when ledger totals were used, to its total.
	TotalsBySource map[string]int64
}

// ExpectedSource names the ledger-derived tally in a Confrontation.
const ExpectedSource = "expected"

// FinalizeRequest carries the conferente decision to close a session.
type FinalizeRequest struct {
	SessionID string
	Actor     string
	Check     ConferenteCheck
	// OverrideReason allows finalizing a divergent session under PolicyConferenteOverride.
	OverrideReason string
	// AccountID, when set, posts one ledger entry per counted category. Nothing is
	// posted when the counts were confronted against already-posted entries.
	AccountID string
}

// Open returns the live session for the identity key, creating it when none exists.
func (c *CountingService) Open(ctx context.Context, req OpenRequest) (*repository.CountingSession, error) {
	for field, v := range map[string]string{"org_id": req.OrgID, "branch_id": req.BranchID, "period": req.Period, "actor": req.Actor} {
		if strings.TrimSpace(v) == "" {
			return nil, &ValidationError{Field: field, Reason: "required"}
		}
	}
	if req.ServiceDate.IsZero() {
		return nil, &ValidationError{Field: "service_date", Reason: "required"}
	}
	key := repository.SessionKey{OrgID: req.OrgID, BranchID: req.BranchID, ServiceDate: database.Day(req.ServiceDate), Period: req.Period}

	var out *repository.CountingSession
	created := false
	err := database.WithTx(ctx, c.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		live, err := store.Sessions.FindLive(ctx, key)
		if err != nil {
			return fmt.Errorf("find live session: %w", err)
		}
		if live != nil {
			out = live
			return nil
		}
		s := repository.CountingSession{
			ID:          uuid.NewString(),
			OrgID:       key.OrgID,
			BranchID:    key.BranchID,
			ServiceDate: key.ServiceDate,
			Period:      key.Period,
			EventID:     req.EventID,
			Status:      repository.SessionOpen,
		}
		if err := store.Sessions.Insert(ctx, s); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := audit(ctx, store, "counting_session", s.ID, "open", req.Actor, ""); err != nil {
			return err
		}
		if out, err = store.Sessions.Get(ctx, s.ID); err != nil {
			return fmt.Errorf("reload session: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log().WithFields(logrus.Fields{
		logging.FieldSessionID: out.ID,
		logging.FieldOrgID:     out.OrgID,
		logging.FieldActor:     req.Actor,
		logging.FieldStatus:    out.Status,
		"created":              created,
	}).Info("counting session opened")
	return out, nil
}

// SubmitCount appends a counter's tally. Values are decimal strings keyed by category.
func (c *CountingService) SubmitCount(ctx context.Context, sessionID, counterID string, values map[string]string) (repository.CountSubmission, error) {
	if strings.TrimSpace(counterID) == "" {
		return repository.CountSubmission{}, &ValidationError{Field: "counter_id", Reason: "required"}
	}
	cents, err := parseValues(values)
	if err != nil {
		return repository.CountSubmission{}, err
	}

	var out repository.CountSubmission
	err = database.WithTx(ctx, c.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		s, err := store.Sessions.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if s == nil {
			return notFound("counting session", sessionID)
		}
		switch s.Status {
		case repository.SessionOpen, repository.SessionCounting, repository.SessionDivergent:
		default:
			return &StateError{Entity: "counting session", ID: s.ID, State: string(s.Status), Op: "submit count to"}
		}
		known, err := store.Categories.Names(ctx)
		if err != nil {
			return fmt.Errorf("load categories: %w", err)
		}
		for cat := range cents {
			if !known[cat] {
				return &ValidationError{Field: "values." + cat, Reason: "unknown category"}
			}
		}
		if out, err = store.Submissions.Add(ctx, repository.CountSubmission{
			ID:        uuid.NewString(),
			SessionID: s.ID,
			CounterID: counterID,
			Values:    cents,
		}); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		if s.Status != repository.SessionCounting {
			n, err := store.Sessions.Transition(ctx, s.ID, repository.SessionCounting, nil, s.Status)
			if err != nil {
				return fmt.Errorf("start counting: %w", err)
			}
			if n != 1 {
				return fmt.Errorf("session %s changed concurrently: %w", s.ID, ErrConflict)
			}
		}
		return nil
	})
	if err != nil {
		return repository.CountSubmission{}, err
	}
	c.log().WithFields(logrus.Fields{
		logging.FieldSessionID: sessionID,
		logging.FieldActor:     counterID,
		"seq":                  out.Seq,
	}).Info("count submitted")
	return out, nil
}

func parseValues(values map[string]string) (map[string]int64, error) {
	if len(values) == 0 {
		return nil, &ValidationError{Field: "values", Reason: "at least one category is required"}
	}
	out := make(map[string]int64, len(values))
	for cat, raw := range values {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat == "" {
			return nil, &ValidationError{Field: "values", Reason: "empty category"}
		}
		v, err := money.Parse(raw)
		if err != nil {
			return nil, &ValidationError{Field: "values." + cat, Reason: err.Error()}
		}
		if v < 0 {
			return nil, &ValidationError{Field: "values." + cat, Reason: "must not be negative"}
		}
		out[cat] = v
	}
	return out, nil
}

// Confrontar compares the latest tally of every counter and records Validated or
// Divergent. A single tally is compared against expected ledger totals when the
// session has an event. The result depends only on stored submissions.
func (c *CountingService) Confrontar(ctx context.Context, sessionID string) (Confrontation, error) {
	var out Confrontation
	err := database.WithTx(ctx, c.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		s, err := store.Sessions.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if s == nil {
			return notFound("counting session", sessionID)
		}
		switch s.Status {
		case repository.SessionCounting, repository.SessionValidated, repository.SessionDivergent:
		default:
			return &StateError{Entity: "counting session", ID: s.ID, State: string(s.Status), Op: "confrontar"}
		}
		subs, err := store.Submissions.ListActive(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("load submissions: %w", err)
		}
		tallies := latestByCounter(subs)
		if len(tallies) < 2 && c.Expected != nil {
			expected, err := c.Expected.ExpectedTotals(ctx, store, *s)
			if err != nil {
				return fmt.Errorf("expected totals: %w", err)
			}
			if len(expected) > 0 {
				tallies[ExpectedSource] = expected
			}
		}
		if len(tallies) < 2 {
			return fmt.Errorf("session %s has %d independent count(s), need 2: %w", s.ID, len(tallies), ErrInvalidState)
		}

		out = confront(tallies, c.ToleranceCents)
		out.SessionID = s.ID
		variance := out.VarianceCents
		n, err := store.Sessions.Transition(ctx, s.ID, out.Status, &variance,
			repository.SessionCounting, repository.SessionValidated, repository.SessionDivergent)
		if err != nil {
			return fmt.Errorf("record confrontation: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("session %s changed concurrently: %w", s.ID, ErrConflict)
		}
		return nil
	})
	if err != nil {
		return Confrontation{}, err
	}
	c.log().WithFields(logrus.Fields{
		logging.FieldSessionID: sessionID,
		logging.FieldStatus:    out.Status,
		"variance":             out.VarianceCents,
	}).Info("counts confronted")
	return out, nil
}

// latestByCounter keeps each counter's most recent submission.
func latestByCounter(subs []repository.CountSubmission) map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	for _, s := range subs { // seq order
		out[s.CounterID] = s.Values
	}
	return out
}

// confront computes the spread between tallies per category and on totals.
func confront(tallies map[string]map[string]int64, tolerance int64) Confrontation {
	cats := map[string]bool{}
	for _, t := range tallies {
		for cat := range t {
			cats[cat] = true
		}
	}
	res := Confrontation{
		Status:             repository.SessionValidated,
		VarianceByCategory: make(map[string]int64, len(cats)),
		TotalsBySource:     make(map[string]int64, len(tallies)),
	}
	for cat := range cats {
		lo, hi := int64(0), int64(0)
		first := true
		for _, t := range tallies {
			v := t[cat]
			if first || v < lo {
				lo = v
			}
			if first || v > hi {
				hi = v
			}
			first = false
		}
		res.VarianceByCategory[cat] = hi - lo
		if hi-lo > tolerance {
			res.Status = repository.SessionDivergent
		}
	}
	first := true
	var lo, hi int64
	for src, t := range tallies {
		var total int64
		for _, v := range t {
			total += v
		}
		res.TotalsBySource[src] = total
		if first || total < lo {
			lo = total
		}
		if first || total > hi {
			hi = total
		}
		first = false
	}
	res.VarianceCents = hi - lo
	if res.VarianceCents > tolerance {
		res.Status = repository.SessionDivergent
	}
	return res
}

// Finalizar closes a validated session on the conferente's approval.
func (c *CountingService) Finalizar(ctx context.Context, req FinalizeRequest) (*repository.CountingSession, error) {
	if strings.TrimSpace(req.Actor) == "" {
		return nil, &ValidationError{Field: "actor", Reason: "required"}
	}
	if err := c.authorize(ctx, req.SessionID, req.Actor, req.Check); err != nil {
		return nil, err
	}

	var out *repository.CountingSession
	override := false
	ledgerBacked := false
	var posted int
	err := database.WithTx(ctx, c.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		s, err := store.Sessions.Get(ctx, req.SessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if s == nil {
			return notFound("counting session", req.SessionID)
		}
		subs, err := store.Submissions.ListActive(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("load submissions: %w", err)
		}
		if err := twoPersonRule(subs, req.Actor); err != nil {
			return err
		}

		switch s.Status {
		case repository.SessionValidated:
		case repository.SessionDivergent:
			if c.Policy != PolicyConferenteOverride || strings.TrimSpace(req.OverrideReason) == "" {
				return &StateError{Entity: "counting session", ID: s.ID, State: string(s.Status), Op: "finalize"}
			}
			override = true
		default:
			return &StateError{Entity: "counting session", ID: s.ID, State: string(s.Status), Op: "finalize"}
		}

		at := c.now()
		// a lone counter was confronted against entries already in the ledger
		ledgerBacked = len(latestByCounter(subs)) < 2
		if req.AccountID != "" && !ledgerBacked {
			if posted, err = postEntries(ctx, store, *s, subs[len(subs)-1], req.AccountID); err != nil {
				return err
			}
		}
		n, err := store.Sessions.Close(ctx, s.ID, at, s.Status)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("session %s changed concurrently: %w", s.ID, ErrConflict)
		}
		action := "finalize"
		if override {
			action = "finalize_override"
		}
		if err := audit(ctx, store, "counting_session", s.ID, action, req.Actor, req.OverrideReason); err != nil {
			return err
		}
		if out, err = store.Sessions.Get(ctx, s.ID); err != nil {
			return fmt.Errorf("reload session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log().WithFields(logrus.Fields{
		logging.FieldSessionID: out.ID,
		logging.FieldActor:     req.Actor,
		logging.FieldReason:    req.OverrideReason,
		logging.FieldCount:     posted,
		"override":             override,
		"ledger_backed":        ledgerBacked,
	}).Info("counting session finalized")
	return out, nil
}

// postEntries writes one ledger transaction per counted category of sub.
func postEntries(ctx context.Context, store *repository.Store, s repository.CountingSession, sub repository.CountSubmission, accountID string) (int, error) {
	cats := make([]string, 0, len(sub.Values))
	for cat, v := range sub.Values {
		if v > 0 {
			cats = append(cats, cat)
		}
	}
	sort.Strings(cats)
	for _, cat := range cats {
		sessionID := s.ID
		t := repository.Transaction{
			ID:              uuid.NewString(),
			OrgID:           s.OrgID,
			AccountID:       accountID,
			Date:            s.ServiceDate,
			AmountCents:     sub.Values[cat],
			Description:     fmt.Sprintf("Contagem %s %s %s", s.ServiceDate.Format(repository.ServiceDateLayout), s.Period, cat),
			Category:        &cat,
			EventID:         s.EventID,
			SourceSessionID: &sessionID,
		}
		if err := store.Transactions.Insert(ctx, t); err != nil {
			return 0, fmt.Errorf("post %s entry: %w", cat, err)
		}
	}
	return len(cats), nil
}

// Rejeitar rejects a live session, discarding its counts. A fresh Open is
// needed to count again.
func (c *CountingService) Rejeitar(ctx context.Context, sessionID, actor string, check ConferenteCheck, reason string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: "actor", Reason: "required"}
	}
	if strings.TrimSpace(reason) == "" {
		return &ValidationError{Field: "reason", Reason: "required"}
	}
	if err := c.authorize(ctx, sessionID, actor, check); err != nil {
		return err
	}
	var discarded int64
	err := database.WithTx(ctx, c.DB, func(tx *sql.Tx) error {
		store := repository.NewStore(tx)
		s, err := store.Sessions.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if s == nil {
			return notFound("counting session", sessionID)
		}
		if !s.Status.Live() {
			return &StateError{Entity: "counting session", ID: s.ID, State: string(s.Status), Op: "reject"}
		}
		subs, err := store.Submissions.ListActive(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("load submissions: %w", err)
		}
		if err := twoPersonRule(subs, actor); err != nil {
			return err
		}
		n, err := store.Sessions.Reject(ctx, s.ID, reason)
		if err != nil {
			return fmt.Errorf("reject session: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("session %s changed concurrently: %w", s.ID, ErrConflict)
		}
		if discarded, err = store.Submissions.Discard(ctx, s.ID, c.now()); err != nil {
			return fmt.Errorf("discard submissions: %w", err)
		}
		return audit(ctx, store, "counting_session", s.ID, "reject", actor, reason)
	})
	if err != nil {
		return err
	}
	c.log().WithFields(logrus.Fields{
		logging.FieldSessionID: sessionID,
		logging.FieldActor:     actor,
		logging.FieldReason:    reason,
		logging.FieldCount:     discarded,
	}).Info("counting session rejected")
	return nil
}

// NextScanWindow returns the bank-import scan window of a branch: from its latest
// session close, or LookbackDays before now when none has closed, up to now.
func (c *CountingService) NextScanWindow(ctx context.Context, orgID, branchID string, now time.Time) (time.Time, time.Time, error) {
	if orgID == "" || branchID == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("org and branch are required: %w", ErrInvalidScope)
	}
	last, err := repository.NewSessionRepo(c.DB).LatestClose(ctx, orgID, branchID)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("latest close: %w", err)
	}
	if last != nil {
		return last.UTC(), now, nil
	}
	days := c.LookbackDays
	if days <= 0 {
		days = 30
	}
	return now.AddDate(0, 0, -days), now, nil
}

// authorize runs the capability check before any transaction is opened so the
// check may use its own storage.
func (c *CountingService) authorize(ctx context.Context, sessionID, actor string, check ConferenteCheck) error {
	if check == nil {
		return fmt.Errorf("no conferente check supplied: %w", ErrForbidden)
	}
	s, err := repository.NewSessionRepo(c.DB).Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return notFound("counting session", sessionID)
	}
	ok, err := check.IsConferente(ctx, actor, s.OrgID, s.BranchID)
	if err != nil {
		return fmt.Errorf("conferente check: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s is not a conferente of %s/%s: %w", actor, s.OrgID, s.BranchID, ErrForbidden)
	}
	return nil
}

func twoPersonRule(subs []repository.CountSubmission, actor string) error {
	for _, s := range subs {
		if s.CounterID == actor {
			return fmt.Errorf("%s counted this session and cannot review it: %w", actor, ErrForbidden)
		}
	}
	return nil
}

func (c *CountingService) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return database.Now()
}

func (c *CountingService) log() logrus.FieldLogger { return logging.OrDiscard(c.Log) }

// IsDivergent reports whether err came from finalizing a divergent session.
func IsDivergent(err error) bool {
	var se *StateError
	return errors.As(err, &se) && se.State == string(repository.SessionDivergent)
}
