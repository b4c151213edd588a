package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/animus-labs/wsctl/internal/environments"
	"github.com/spf13/cobra"
)

func newEnvironmentCommand(a *app) *cobra.Command {
	envCmd := &cobra.Command{
		Use:     "environment",
		Aliases: []string{"env"},
		Short:   "List, inspect and register execution environments",
	}
	envCmd.AddCommand(
		newEnvironmentListCommand(a),
		newEnvironmentShowCommand(a),
		newEnvironmentCreateCommand(a),
	)
	return envCmd
}

func newEnvironmentListCommand(a *app) *cobra.Command {
	var curated bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered environments in the order the workspace returns them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLATEST\tDESCRIPTION")
			it := s.environments.List(cmd.Context())
			for it.Next() {
				v := it.Value()
				if curated && !domain.IsCurated(v.Name) {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Name, v.LatestVersion, v.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return it.Err()
		},
	}
	cmd.Flags().BoolVar(&curated, "curated", false, "only list curated environments ("+domain.CuratedPrefix+"*)")
	return cmd
}

func newEnvironmentShowCommand(a *app) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "show NAME --version V",
		Short: "Print one registered environment version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			v, err := s.environments.Get(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			printEnvironment(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "environment version")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newEnvironmentCreateCommand(a *app) *cobra.Command {
	var (
		image       string
		condaFile   string
		description string
		tags        map[string]string
	)
	cmd := &cobra.Command{
		Use:   "create NAME --image IMG [--conda-file F]",
		Short: "Register a new environment version from an image, optionally with a conda file",
		Long: `Registers a new version of NAME. The workspace assigns the version number.

With --conda-file the packages are layered on top of the image. The image is
built the first time a job uses the environment, so the first such job takes
longer to start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := environments.FromImage(args[0], image, description)
			if condaFile != "" {
				manifest, err := environments.LoadManifest(condaFile)
				if err != nil {
					return configError{err: err}
				}
				spec = environments.FromImageWithManifest(args[0], image, manifest, description)
			}
			spec.Tags = domain.Tags(tags)

			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			v, err := s.environments.CreateOrUpdate(cmd.Context(), spec)
			if err != nil {
				return err
			}
			printEnvironment(cmd.OutOrStdout(), v)
			fmt.Fprintf(cmd.OutOrStdout(), "Reference:   %s\n", v.Ref())
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&image, "image", "", "base container image")
	fl.StringVar(&condaFile, "conda-file", "", "conda dependency manifest (YAML)")
	fl.StringVar(&description, "description", "", "description")
	fl.StringToStringVar(&tags, "tag", nil, "tag as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func printEnvironment(out io.Writer, v domain.EnvironmentVersion) {
	fmt.Fprintf(out, "Name:        %s\n", v.Name)
	fmt.Fprintf(out, "Version:     %s\n", v.Version)
	fmt.Fprintf(out, "Image:       %s\n", v.Image)
	if v.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", v.Description)
	}
	if v.BuildState != "" {
		fmt.Fprintf(out, "Build state: %s\n", v.BuildState)
	}
	if v.CondaFile != "" {
		fmt.Fprintf(out, "Conda file:\n%s", v.CondaFile)
	}
}
