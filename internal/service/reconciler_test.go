package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/match"
)

func TestGenerateRejectsUnresolvableScope(t *testing.T) {
	ctx := context.Background()
	r := newReconciler(openTestDB(t))

	_, err := r.Generate(ctx, repository.Scope{PeriodStart: day("2024-03-01"), PeriodEnd: day("2024-03-31")}, ConfiguredFloor)
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = r.Generate(ctx, repository.Scope{OrgID: testOrg}, ConfiguredFloor)
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = r.Generate(ctx, repository.Scope{OrgID: testOrg, PeriodStart: day("2024-03-31"), PeriodEnd: day("2024-03-01")}, ConfiguredFloor)
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = r.Generate(ctx, march(), 1.5)
	require.ErrorIs(t, err, ErrValidation)
}

func TestGenerateIsReadOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 15000, "2024-03-10", "PIX JOAO")
	addTransaction(t, db, "t1", 15000, "2024-03-11", "Dízimo João Silva")
	r := newReconciler(db)

	got, err := r.Generate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, match.ShapeOneToOne, got[0].Shape)
	assert.GreaterOrEqual(t, got[0].Score, 0.7)
	assert.Equal(t, repository.SuggestionPending, got[0].Status)

	stored, err := r.ListSuggestions(ctx, repository.SuggestionFilter{OrgID: testOrg})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestGenerateIncludesRowsTimedOnTheLastDay(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, repository.NewStatementRepo(db).Insert(ctx, repository.StatementLine{
		ID: "s1", OrgID: testOrg, AccountID: testAccount, AmountCents: 15000, Description: "PIX JOAO",
		Date: time.Date(2024, 3, 31, 18, 30, 0, 0, time.UTC),
	}))
	require.NoError(t, repository.NewTransactionRepo(db).Insert(ctx, repository.Transaction{
		ID: "t1", OrgID: testOrg, AccountID: testAccount, AmountCents: 15000, Description: "Dízimo João Silva",
		Date: time.Date(2024, 3, 31, 9, 15, 0, 0, time.UTC),
	}))

	got, err := newReconciler(db).Generate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.Len(t, got, 1)

	line, err := repository.NewStatementRepo(db).Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.True(t, line.Date.Equal(day("2024-03-31")), "stored as a calendar day, got %v", line.Date)
}

func TestGenerateAcceptsAZeroFloor(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	// five days apart with unrelated descriptions scores below the default floor
	addStatement(t, db, "s1", 15000, "2024-03-10", "TARIFA PACOTE")
	addTransaction(t, db, "t1", 15000, "2024-03-15", "Dizimo Maria Souza")
	r := newReconciler(db)

	got, err := r.Generate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Generate(ctx, march(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Less(t, got[0].Score, match.DefaultScoreMin)
}

func TestGenerateEmptyLedgerIsNotAnError(t *testing.T) {
	got, err := newReconciler(openTestDB(t)).Generate(context.Background(), march(), ConfiguredFloor)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegenerateReplacesPendingOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 15000, "2024-03-10", "PIX JOAO")
	addTransaction(t, db, "t1", 15000, "2024-03-11", "Dízimo João Silva")
	addStatement(t, db, "s2", 8000, "2024-03-12", "PIX ANA")
	addTransaction(t, db, "t2", 8000, "2024-03-12", "Oferta Ana")
	r := newReconciler(db)

	first, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NoError(t, r.Accept(ctx, first[0].ID, "op-1"))

	second, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.Len(t, second, 1)

	pending, err := r.ListSuggestions(ctx, repository.SuggestionFilter{OrgID: testOrg, Status: repository.SuggestionPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second[0].ID, pending[0].ID)

	accepted, err := r.ListSuggestions(ctx, repository.SuggestionFilter{OrgID: testOrg, Status: repository.SuggestionAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, first[0].ID, accepted[0].ID)
}

func TestAcceptThenDesconciliarIsExactInverse(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 15000, "2024-03-10", "PIX JOAO")
	addTransaction(t, db, "t1", 15000, "2024-03-11", "Dízimo João Silva")
	r := newReconciler(db)

	before := snapshot(t, db)
	got, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	s := findShape(t, got, match.ShapeOneToOne)
	require.NoError(t, r.Accept(ctx, s.ID, "op-1"))

	line, err := repository.NewStatementRepo(db).Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatementMatched1to1, line.Status)
	txn, err := repository.NewTransactionRepo(db).Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, txn.ReconciledSuggestionID)
	assert.Equal(t, s.ID, *txn.ReconciledSuggestionID)

	counts, err := r.Desconciliar(ctx, "t1", "op-1", "wrong member")
	require.NoError(t, err)
	assert.Equal(t, ReleaseCounts{OneToOneReleased: 1, TransactionsReleased: 1}, counts)
	assert.Equal(t, before, snapshot(t, db))

	links, err := repository.NewLinkRepo(db).ListBySuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
	stored, err := repository.NewSuggestionRepo(db).Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.SuggestionVoided, stored.Status)

	trail, err := repository.NewAuditRepo(db).ListForEntity(ctx, "suggestion", s.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "accept", trail[0].Action)
	assert.Equal(t, "desconciliar", trail[1].Action)
	assert.Equal(t, "wrong member", trail[1].Reason)
}

func TestDesconciliarBatchReturnsBreakdown(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 5000, "2024-03-04", "DEP OFERTA CULTO")
	addStatement(t, db, "s2", 5000, "2024-03-05", "DEP OFERTA CULTO")
	addStatement(t, db, "s3", 10000, "2024-03-06", "DEP OFERTA CULTO")
	addTransaction(t, db, "t1", 20000, "2024-03-06", "Oferta culto domingo")
	r := newReconciler(db)

	got, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	s := findShape(t, got, match.ShapeBatch)
	require.Len(t, s.StatementIDs, 3)
	require.NoError(t, r.Accept(ctx, s.ID, "op-1"))

	for _, id := range []string{"s1", "s2", "s3"} {
		line, err := repository.NewStatementRepo(db).Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, repository.StatementMatchedBatch, line.Status)
	}

	counts, err := r.Desconciliar(ctx, "t1", "op-1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, counts.BatchLinesReleased)
	assert.Equal(t, 1, counts.BatchesRemoved)
	assert.Zero(t, counts.OneToOneReleased)
	assert.Zero(t, counts.SplitsRemoved)
}

func TestDesconciliarSplitReleasesEveryTransaction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", -30000, "2024-03-02", "PGTO FORNECEDOR GRAFICA")
	addTransaction(t, db, "t1", -12000, "2024-03-01", "Grafica folhetos")
	addTransaction(t, db, "t2", -18000, "2024-03-02", "Grafica banners")
	r := newReconciler(db)

	got, err := r.Regenerate(ctx, march(), 0.5)
	require.NoError(t, err)
	s := findShape(t, got, match.ShapeSplit)
	require.NoError(t, r.Accept(ctx, s.ID, "op-1"))

	counts, err := r.Desconciliar(ctx, "t1", "op-1", "")
	require.NoError(t, err)
	assert.Equal(t, ReleaseCounts{SplitLinesReleased: 1, SplitsRemoved: 1, TransactionsReleased: 2}, counts)

	t2, err := repository.NewTransactionRepo(db).Get(ctx, "t2")
	require.NoError(t, err)
	assert.False(t, t2.Reconciled())
}

func TestDesconciliarRollsBackOnPartialFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 5000, "2024-03-04", "DEP OFERTA CULTO")
	addStatement(t, db, "s2", 5000, "2024-03-05", "DEP OFERTA CULTO")
	addStatement(t, db, "s3", 10000, "2024-03-06", "DEP OFERTA CULTO")
	addTransaction(t, db, "t1", 20000, "2024-03-06", "Oferta culto domingo")
	r := newReconciler(db)

	got, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	s := findShape(t, got, match.ShapeBatch)
	require.NoError(t, r.Accept(ctx, s.ID, "op-1"))

	// s2 no longer carries the batch status, so its release cannot apply.
	_, err = db.ExecContext(ctx, `UPDATE statement_lines SET status = 'matched_1to1' WHERE id = 's2'`)
	require.NoError(t, err)
	before := snapshot(t, db)

	_, err = r.Desconciliar(ctx, "t1", "op-1", "")
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, before, snapshot(t, db))

	links, err := repository.NewLinkRepo(db).ListBySuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, links, 3)
	stored, err := repository.NewSuggestionRepo(db).Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.SuggestionAccepted, stored.Status)
}

func TestDesconciliarErrors(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addTransaction(t, db, "t1", 1000, "2024-03-06", "Oferta")
	r := newReconciler(db)

	_, err := r.Desconciliar(ctx, "missing", "op-1", "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Desconciliar(ctx, "t1", "op-1", "")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = r.Desconciliar(ctx, "t1", "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentAcceptsOnOverlapOneWins(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 10000, "2024-03-10", "PIX MARIA")
	addTransaction(t, db, "t1", 10000, "2024-03-10", "Oferta Maria")
	addTransaction(t, db, "t2", 10000, "2024-03-11", "Oferta Maria")
	r := newReconciler(db)

	got, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.Len(t, got, 2)

	var wg sync.WaitGroup
	errs := make([]error, len(got))
	for i, s := range got {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = r.Accept(ctx, id, "op-"+id)
		}(i, s.ID)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assertDisjoint(t, r)
}

func TestAcceptAndRejectRequirePending(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 15000, "2024-03-10", "PIX JOAO")
	addTransaction(t, db, "t1", 15000, "2024-03-11", "Dízimo João Silva")
	r := newReconciler(db)

	require.ErrorIs(t, r.Accept(ctx, "missing", "op-1"), ErrNotFound)

	got, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.NoError(t, r.Accept(ctx, got[0].ID, "op-1"))

	require.ErrorIs(t, r.Accept(ctx, got[0].ID, "op-1"), ErrInvalidState)
	require.ErrorIs(t, r.Reject(ctx, got[0].ID, "op-1", "late"), ErrInvalidState)
}

func TestRejectedPairingIsSuppressed(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 15000, "2024-03-10", "PIX JOAO")
	addTransaction(t, db, "t1", 15000, "2024-03-11", "Dízimo João Silva")
	r := newReconciler(db)

	got, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, r.Reject(ctx, got[0].ID, "op-1", "different person"))

	before := snapshot(t, db)
	again, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, before, snapshot(t, db), "reject must not touch the ledger")

	r.SuppressRejected = false
	again, err = r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, got[0].StatementIDs, again[0].StatementIDs)

	trail, err := repository.NewAuditRepo(db).ListForEntity(ctx, "suggestion", got[0].ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "reject", trail[0].Action)
	assert.Equal(t, "op-1", trail[0].Actor)
	assert.Equal(t, "different person", trail[0].Reason)
}

func TestAcceptedRowsLeaveTheCandidatePool(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	addStatement(t, db, "s1", 10000, "2024-03-10", "PIX MARIA")
	addTransaction(t, db, "t1", 10000, "2024-03-10", "Oferta Maria")
	addTransaction(t, db, "t2", 10000, "2024-03-11", "Oferta Maria")
	r := newReconciler(db)

	got, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	require.NoError(t, r.Accept(ctx, got[0].ID, "op-1"))

	again, err := r.Regenerate(ctx, march(), ConfiguredFloor)
	require.NoError(t, err)
	assert.Empty(t, again)
	assertDisjoint(t, r)
}

func assertDisjoint(t *testing.T, r *Reconciler) {
	t.Helper()
	accepted, err := r.ListSuggestions(context.Background(), repository.SuggestionFilter{OrgID: testOrg, Status: repository.SuggestionAccepted})
	require.NoError(t, err)
	stmts := map[string]string{}
	txns := map[string]string{}
	for _, s := range accepted {
		for _, id := range s.StatementIDs {
			prev, dup := stmts[id]
			require.Falsef(t, dup, "statement line %s linked by %s and %s", id, prev, s.ID)
			stmts[id] = s.ID
		}
		for _, id := range s.TransactionIDs {
			prev, dup := txns[id]
			require.Falsef(t, dup, "transaction %s linked by %s and %s", id, prev, s.ID)
			txns[id] = s.ID
		}
	}
}
