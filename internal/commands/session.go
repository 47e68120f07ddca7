package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/money"
	"github.com/jask/tesouraria/internal/service"
)

func newSessionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Counting sessions for offerings and tithes",
	}
	cmd.AddCommand(
		newSessionOpenCommand(a),
		newSessionSubmitCommand(a),
		newSessionConfrontCommand(a),
		newSessionFinalizeCommand(a),
		newSessionRejectCommand(a),
		newSessionWindowCommand(a),
	)
	return cmd
}

func newSessionOpenCommand(a *app) *cobra.Command {
	var branch, date, period, event string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open (or return the live) counting session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDay("date", date)
			if err != nil {
				return err
			}
			req := service.OpenRequest{OrgID: a.orgID, BranchID: branch, ServiceDate: d, Period: period, Actor: a.actor}
			if event != "" {
				req.EventID = &event
			}
			return a.withDB(cmd, func(ctx context.Context) error {
				s, err := a.counting.Open(ctx, req)
				if err != nil {
					return err
				}
				printSession(cmd, s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch id")
	cmd.Flags().StringVar(&date, "date", time.Now().Format(time.DateOnly), "service date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&period, "period", "", "service period, e.g. manha or noite")
	cmd.Flags().StringVar(&event, "event", "", "linked event id")
	_ = cmd.MarkFlagRequired("branch")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func newSessionSubmitCommand(a *app) *cobra.Command {
	var counter string
	var values map[string]string
	cmd := &cobra.Command{
		Use:   "submit <session-id>",
		Short: "Submit a counter's tally, e.g. --value oferta=150.00",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if counter == "" {
				counter = a.actor
			}
			return a.withDB(cmd, func(ctx context.Context) error {
				sub, err := a.counting.SubmitCount(ctx, args[0], counter, values)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submission %d by %s recorded\n", sub.Seq, sub.CounterID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&counter, "counter", "", "counter id (default --actor)")
	cmd.Flags().StringToStringVar(&values, "value", nil, "category=amount, repeatable")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newSessionConfrontCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "confront <session-id>",
		Short: "Compare the session's counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				res, err := a.counting.Confrontar(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "status %s, variance %s\n", res.Status, money.Format(res.VarianceCents))
				for _, cat := range sortedKeys(res.VarianceByCategory) {
					fmt.Fprintf(out, "  %-10s %s\n", cat, money.Format(res.VarianceByCategory[cat]))
				}
				return nil
			})
		},
	}
}

func newSessionFinalizeCommand(a *app) *cobra.Command {
	var override, account string
	cmd := &cobra.Command{
		Use:   "finalize <session-id>",
		Short: "Close a validated session as conferente",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				s, err := a.counting.Finalizar(ctx, service.FinalizeRequest{
					SessionID:      args[0],
					Actor:          a.actor,
					Check:          a.conferentes(),
					OverrideReason: override,
					AccountID:      account,
				})
				if service.IsDivergent(err) && a.counting.Policy != service.PolicyConferenteOverride {
					return fmt.Errorf("%w (recount, or set counting.divergent_policy = %q)", err, service.PolicyConferenteOverride)
				}
				if err != nil {
					return err
				}
				printSession(cmd, s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&override, "override-reason", "", "finalize a divergent session under conferente_override")
	cmd.Flags().StringVar(&account, "post-account", "", "post one ledger entry per category into this account")
	return cmd
}

func newSessionRejectCommand(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <session-id>",
		Short: "Reject a session and discard its counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				if err := a.counting.Rejeitar(ctx, args[0], a.actor, a.conferentes(), reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the counts are discarded")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newSessionWindowCommand(a *app) *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Show the next bank-import scan window of a branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				start, end, err := a.counting.NextScanWindow(ctx, a.orgID, branch, time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s .. %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch id")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

func printSession(cmd *cobra.Command, s *repository.CountingSession) {
	parts := []string{s.ID, string(s.Status), s.ServiceDate.Format(repository.ServiceDateLayout), s.Period}
	if s.ClosedAt != nil {
		parts = append(parts, "closed "+s.ClosedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, "  "))
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
