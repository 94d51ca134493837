package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"genflow/internal/domain"
)

type userFlags struct {
	userID string
	email  string
}

func (f *userFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user", "", "User id")
	cmd.Flags().StringVar(&f.email, "email", "", "User email")
}

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and grant user credits",
	}
	cmd.AddCommand(newCreditsGrantCommand(ctx))
	cmd.AddCommand(newCreditsBalanceCommand(ctx))
	cmd.AddCommand(newCreditsTransactionsCommand(ctx))
	return cmd
}

func newCreditsGrantCommand(ctx *commandContext) *cobra.Command {
	var who userFlags
	var amount int
	var description string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Add purchased credits to a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}
			userID, err := ctx.resolveUser(cmd.Context(), who.userID, who.email)
			if err != nil {
				return err
			}
			sess, err := ctx.session(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := sess.services.Ledger.Grant(cmd.Context(), userID, amount, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Granted %d credits to %s, balance %d\n", amount, userID, entry.BalanceAfter)
			return nil
		},
	}
	who.bind(cmd)
	cmd.Flags().IntVar(&amount, "amount", 0, "Credits to add")
	cmd.Flags().StringVar(&description, "description", "", "Ledger description")
	return cmd
}

func newCreditsBalanceCommand(ctx *commandContext) *cobra.Command {
	var who userFlags
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a user's balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := ctx.resolveUser(cmd.Context(), who.userID, who.email)
			if err != nil {
				return err
			}
			sess, err := ctx.session(cmd.Context())
			if err != nil {
				return err
			}
			balance, err := sess.services.Ledger.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", userID, balance)
			return nil
		},
	}
	who.bind(cmd)
	return cmd
}

func newCreditsTransactionsCommand(ctx *commandContext) *cobra.Command {
	var who userFlags
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List a user's most recent ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := ctx.resolveUser(cmd.Context(), who.userID, who.email)
			if err != nil {
				return err
			}
			sess, err := ctx.session(cmd.Context())
			if err != nil {
				return err
			}
			txs, err := sess.services.Ledger.Transactions(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, txs)
			}
			if len(txs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transactions")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTransactions(txs))
			return nil
		},
	}
	who.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func renderTransactions(txs []domain.CreditTransaction) string {
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		linked := ""
		if tx.LinkedInstanceID != nil {
			linked = *tx.LinkedInstanceID
		}
		rows = append(rows, []string{
			tx.CreatedAt.UTC().Format(time.RFC3339),
			string(tx.Type),
			strconv.Itoa(tx.Amount),
			tx.Description,
			linked,
		})
	}
	return renderTable(
		[]string{"When", "Type", "Amount", "Description", "Instance"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}
