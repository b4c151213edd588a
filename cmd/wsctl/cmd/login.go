package cmd

import (
	"fmt"
	"time"

	"github.com/animus-labs/wsctl/internal/credential"
	"github.com/animus-labs/wsctl/internal/platform/env"
	"github.com/spf13/cobra"
)

func newLoginCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Resolve a credential and check that it can produce a token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := a.credential(cmd.Context())
			if err != nil {
				return fmt.Errorf("credential: %w", err)
			}
			scope := env.String("WSCTL_SCOPE", credential.DefaultScope)
			tok, err := cred.GetToken(cmd.Context(), scope)
			if err != nil {
				return fmt.Errorf("token for %s: %w", scope, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Authenticated for %s\n", scope)
			if !tok.Expiry.IsZero() {
				fmt.Fprintf(out, "Token expires: %s\n", tok.Expiry.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newWorkspaceCommand(a *app) *cobra.Command {
	ws := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect the workspace named by config.json",
	}
	ws.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the workspace the current directory is bound to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			details, err := client.Get(cmd.Context())
			if err != nil {
				return err
			}
			cfg := client.Config()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workspace:      %s\n", details.Name)
			fmt.Fprintf(out, "Resource group: %s\n", cfg.ResourceGroup)
			fmt.Fprintf(out, "Subscription:   %s\n", cfg.SubscriptionID)
			if details.Location != "" {
				fmt.Fprintf(out, "Location:       %s\n", details.Location)
			}
			if details.StudioURL != "" {
				fmt.Fprintf(out, "Studio:         %s\n", details.StudioURL)
			}
			return nil
		},
	})
	return ws
}
