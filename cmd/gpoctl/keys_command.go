package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genflow/internal/infra/credentials"
)

func newKeysCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored provider API keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <key>",
		Short: fmt.Sprintf("Store the API key of a provider (%s)", strings.Join(credentials.KnownProviders, ", ")),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := sess.services.Credentials.SetToken(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key, restart api and worker to pick it up\n", args[0])
			return nil
		},
	})
	return cmd
}
