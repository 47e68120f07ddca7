package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/money"
	"github.com/jask/tesouraria/internal/service"
)

type scopeFlags struct {
	account  string
	from     string
	to       string
	scoreMin float64
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.account, "account", "", "account id (default: every account of the org)")
	cmd.Flags().StringVar(&f.from, "from", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "period end (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&f.scoreMin, "score-min", service.ConfiguredFloor, "score floor in [0,1]; negative uses matching.score_min")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (f *scopeFlags) scope(orgID string) (repository.Scope, error) {
	from, err := parseDay("from", f.from)
	if err != nil {
		return repository.Scope{}, err
	}
	to, err := parseDay("to", f.to)
	if err != nil {
		return repository.Scope{}, err
	}
	return repository.Scope{OrgID: orgID, AccountID: f.account, PeriodStart: from, PeriodEnd: to}, nil
}

func newGenerateCommand(a *app, persist bool) *cobra.Command {
	var f scopeFlags
	use, short := "generate", "Propose suggestions for a scope without saving them"
	if persist {
		use, short = "regenerate", "Replace the pending suggestions of a scope"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := f.scope(a.orgID)
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context) error {
				run := a.reconciler.Generate
				if persist {
					run = a.reconciler.Regenerate
				}
				got, err := run(ctx, scope, f.scoreMin)
				if err != nil {
					return err
				}
				printSuggestions(cmd.OutOrStdout(), got)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newSuggestionsCommand(a *app) *cobra.Command {
	var filter repository.SuggestionFilter
	var status string
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "List stored suggestions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.OrgID = a.orgID
			filter.Status = repository.SuggestionStatus(status)
			return a.withDB(cmd, func(ctx context.Context) error {
				got, err := a.reconciler.ListSuggestions(ctx, filter)
				if err != nil {
					return err
				}
				printSuggestions(cmd.OutOrStdout(), got)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.AccountID, "account", "", "account id")
	cmd.Flags().StringVar(&status, "status", "pending", "pending, accepted, rejected, voided or empty for all")
	return cmd
}

func newAcceptCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <suggestion-id>",
		Short: "Accept a suggestion and link its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				if err := a.reconciler.Accept(ctx, args[0], a.actor); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accepted %s\n", args[0])
				return nil
			})
		},
	}
}

func newRejectCommand(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <suggestion-id>",
		Short: "Reject a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				if err := a.reconciler.Reject(ctx, args[0], a.actor, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the pairing is wrong")
	return cmd
}

func newUndoCommand(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:     "undo <transaction-id>",
		Aliases: []string{"desconciliar"},
		Short:   "Reverse every accepted reconciliation of a transaction",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				counts, err := a.reconciler.Desconciliar(ctx, args[0], a.actor, reason)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the link is reversed")
	return cmd
}

func printSuggestions(w io.Writer, got []repository.Suggestion) {
	if len(got) == 0 {
		fmt.Fprintln(w, "no suggestions")
		return
	}
	for _, s := range got {
		fmt.Fprintf(w, "%s  %-10s  score=%.3f  Δdays=%.1f  Δamount=%s  desc=%.2f  %s  stmts=%s  txns=%s\n",
			s.ID, s.Shape, s.Score, s.Features.DateDeltaDays, money.Format(s.Features.AmountDeltaCents),
			s.Features.DescriptionSimilarity, s.Status, strings.Join(s.StatementIDs, ","), strings.Join(s.TransactionIDs, ","))
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
