// Package testdata seeds a demo ledger for trying the reconciler by hand.
package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jask/tesouraria/internal/database"
	"github.com/jask/tesouraria/internal/database/repository"
)

// Options controls Seed. A fixed Seed value reproduces the same ledger.
type Options struct {
	OrgID     string
	AccountID string
	// Start is the first day of the seeded month.
	Start time.Time
	Seed  int64
	// Noise is the number of unmatched filler rows on each side.
	Noise int
}

// Result counts what Seed inserted.
type Result struct {
	Statements   int
	Transactions int
}

// Seed inserts a month of statement lines and transactions that exercise every
// match shape: one-to-one PIX credits, a batched deposit, a split supplier payment,
// plus unmatched noise.
func Seed(ctx context.Context, store *repository.Store, opts Options) (Result, error) {
	if opts.OrgID == "" || opts.AccountID == "" {
		return Result{}, fmt.Errorf("seed: org and account are required")
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	rnd := rand.New(rand.NewSource(opts.Seed))
	start := database.Day(opts.Start)
	var res Result

	id := func(kind string, n int) string {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%s:%d:%s:%d", opts.OrgID, opts.AccountID, opts.Seed, kind, n))).String()
	}
	stmt := func(n int, offset int, cents int64, desc string) error {
		res.Statements++
		return store.Statements.Insert(ctx, repository.StatementLine{
			ID: id("stmt", n), OrgID: opts.OrgID, AccountID: opts.AccountID,
			Date: start.AddDate(0, 0, offset), AmountCents: cents, Description: desc,
		})
	}
	txn := func(n int, offset int, cents int64, desc, category string) error {
		res.Transactions++
		t := repository.Transaction{
			ID: id("txn", n), OrgID: opts.OrgID, AccountID: opts.AccountID,
			Date: start.AddDate(0, 0, offset), AmountCents: cents, Description: desc,
		}
		if category != "" {
			t.Category = &category
		}
		return store.Transactions.Insert(ctx, t)
	}

	members := []string{"JOAO SILVA", "MARIA SOUZA", "ANA COSTA", "PEDRO LIMA", "LUCAS ROCHA"}
	n := 0
	for i, m := range members {
		cents := int64(rnd.Intn(40)+1) * 2500
		day := 2 + i*5
		if err := stmt(n, day, cents, "PIX RECEBIDO "+m); err != nil {
			return res, err
		}
		if err := txn(n, day+rnd.Intn(2), cents, "Dízimo "+titleCase(m), "dizimo"); err != nil {
			return res, err
		}
		n++
	}

	// Three envelope deposits booked as one offering entry.
	deposits := []int64{5000, 5000, 10000}
	for i, cents := range deposits {
		if err := stmt(n, 3+i, cents, "DEP DINHEIRO OFERTA CULTO"); err != nil {
			return res, err
		}
		n++
	}
	if err := txn(n, 5, 20000, "Oferta culto domingo", "oferta"); err != nil {
		return res, err
	}
	n++

	// One supplier payment covering two booked expenses.
	if err := stmt(n, 12, -30000, "PGTO FORNECEDOR GRAFICA"); err != nil {
		return res, err
	}
	if err := txn(n, 11, -12000, "Grafica folhetos", "material"); err != nil {
		return res, err
	}
	n++
	if err := txn(n, 12, -18000, "Grafica banners", "material"); err != nil {
		return res, err
	}
	n++

	for i := 0; i < opts.Noise; i++ {
		if err := stmt(n, rnd.Intn(28), int64(rnd.Intn(900)+100)*-100-7, "TARIFA BANCARIA"); err != nil {
			return res, err
		}
		if err := txn(n, rnd.Intn(28), int64(rnd.Intn(900)+100)*100+3, "Oferta missionaria", "missoes"); err != nil {
			return res, err
		}
		n++
	}
	return res, nil
}

func titleCase(s string) string {
	out := []byte(s)
	upper := true
	for i, c := range out {
		switch {
		case c == ' ':
			upper = true
		case upper:
			upper = false
		case c >= 'A' && c <= 'Z':
			out[i] = c + 'a' - 'A'
		}
	}
	return string(out)
}
