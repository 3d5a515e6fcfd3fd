package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"avante-billing/internal/domain/model"
	"avante-billing/internal/orchestrator"
)

func payCmd(opts *options) *cobra.Command {
	var (
		amount    string
		tier      string
		frequency string
		cancel    bool
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Run a subscription payment through a simulated wallet",
		Long: `Run the full handshake (approve, then complete) against the backend.
The wallet side is simulated, so this is meant for a backend running
with the noop gateway (app --dev).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			t, err := model.ParseTier(tier)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, opts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			orch := s.newOrchestrator(&simulatedWallet{cancelAfterApproval: cancel})
			if m, err := orch.FindResumablePayment(ctx); err == nil && m != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: payment %s from an earlier session is unresolved (run `payctl resume`)\n", m.PaymentID)
			}

			res, err := orch.StartSubscriptionPayment(ctx, amt, t, frequency)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), orchestrator.UserMessage(err))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if res.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "payment %s settled with transaction %s\n", res.PaymentID, res.TransactionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "0.5", "amount in Pi")
	cmd.Flags().StringVarP(&tier, "tier", "t", string(model.TierIndividual), "subscription tier")
	cmd.Flags().StringVarP(&frequency, "frequency", "f", "monthly", "billing frequency")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "cancel in the wallet after approval")
	return cmd
}

func pendingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show the unresolved payment left by an earlier session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.newOrchestrator(nil).FindResumablePayment(ctx)
			if err != nil {
				return err
			}
			if m == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending payment")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment:  %s\namount:   %s\nmemo:     %s\ntier:     %s\n",
				m.PaymentID, m.Amount, m.Memo, m.Metadata.SubscriptionTier())
			return nil
		},
	}
}

func resumeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Reconcile the pending payment with the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.newOrchestrator(nil).ResumePending(ctx)
			if err != nil {
				return err
			}
			switch res.Action {
			case orchestrator.ResumeNone:
				fmt.Fprintln(cmd.OutOrStdout(), "no pending payment")
			case orchestrator.ResumeInFlight:
				fmt.Fprintf(cmd.OutOrStdout(), "payment %s is still in flight (%s); marker kept\n",
					res.Marker.PaymentID, flags(res.Record))
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "payment %s %s; marker cleared\n", res.Marker.PaymentID, res.Action)
			}
			return nil
		},
	}
}

func cleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Ask the backend to cancel this user's stale payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.backend.CleanupStale(ctx, s.cfg.Orchestrator.UserID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (cleaned %d)\n", out.Message, out.CleanedCount)
			return nil
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <paymentId>",
		Short: "Show a payment's lifecycle flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.backend.PaymentStatus(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment:  %s\nuser:     %s\namount:   %s\nstatus:   %s\ncreated:  %s\n",
				rec.PaymentID, rec.UserID, rec.Amount, flags(rec), rec.CreatedAt.Format("2006-01-02 15:04:05"))
			if rec.SettlementTxID != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "txid:     %s\n", *rec.SettlementTxID)
			}
			if rec.Status.Error != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error:    %s\n", *rec.Status.Error)
			}
			return nil
		},
	}
}

func subscriptionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "subscription",
		Short: "Show the user's current tier and upgrade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, false)
			if err != nil {
				return err
			}
			defer s.Close()

			sub, err := s.backend.Subscription(ctx, s.cfg.Orchestrator.UserID)
			if err != nil {
				return err
			}
			tier := sub.Tier
			if tier == "" {
				tier = "none"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user:     %s\ntier:     %s\n", sub.UserID, tier)
			for _, h := range sub.History {
				until := "open-ended"
				if h.EndDate != nil {
					until = h.EndDate.Format("2006-01-02")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %-15s %s -> %s\n", h.Plan, h.StartDate.Format("2006-01-02"), until)
			}
			return nil
		},
	}
}

func flags(p *model.PaymentRecord) string {
	if p == nil {
		return "unknown"
	}
	var set []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"approved", p.Status.Approved},
		{"verified", p.Status.Verified},
		{"completed", p.Status.Completed},
		{"cancelled", p.Status.Cancelled},
	} {
		if f.on {
			set = append(set, f.name)
		}
	}
	if len(set) == 0 {
		return "created"
	}
	return strings.Join(set, ",")
}
