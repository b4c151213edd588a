package cmd

import (
	"fmt"

	"github.com/animus-labs/wsctl/internal/scaffold"
	"github.com/spf13/cobra"
)

func newScaffoldCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scaffold [dir]",
		Short: "Write the sample training script and its conda dependency manifest",
		Long: `Writes ` + scaffold.ScriptName + ` and ` + scaffold.ManifestName + ` into dir (default "src"),
creating it if needed and overwriting existing files. The script trains a
logistic regression classifier and accepts --reg-rate.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "src"
			if len(args) == 1 {
				dir = args[0]
			}
			script, manifest, err := scaffold.Materialize(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", script)
			fmt.Fprintf(out, "Wrote %s\n", manifest)
			fmt.Fprintf(out, "Entry command: %s\n", scaffold.TrainCommand)
			return nil
		},
	}
}
