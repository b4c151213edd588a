package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/animus-labs/wsctl/internal/environments"
	"github.com/animus-labs/wsctl/internal/scaffold"
	"github.com/spf13/cobra"
)

func newWalkthroughCommand(a *app) *cobra.Command {
	w := &cobra.Command{
		Use:   "walkthrough",
		Short: "Run a guided end-to-end sequence against the workspace",
	}
	w.AddCommand(newTrainingWalkthroughCommand(a), newAutoMLWalkthroughCommand(a))
	return w
}

type trainingWalkthrough struct {
	dir        string
	compute    string
	curated    string
	image      string
	experiment string
}

func newTrainingWalkthroughCommand(a *app) *cobra.Command {
	var f trainingWalkthrough
	cmd := &cobra.Command{
		Use:   "training",
		Short: "Write a training script, run it on a curated environment, then on custom ones",
		Long: `Runs these steps in order and stops at the first failure:

  1. connect to the workspace
  2. write the training script and conda manifest
  3. submit the script on the curated environment
  4. list curated environments
  5. show the latest version of the first curated environment
  6. register an environment from a plain image
  7. register an environment from the image plus the conda manifest
  8. submit the script on the new environment

Jobs are not awaited. Each submission prints the URL to follow it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()
			details, err := s.client.Get(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Connected to workspace %s\n", details.Name)

			script, manifestPath, err := scaffold.Materialize(f.dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %s and %s\n", script, manifestPath)

			job := domain.CommandJob{
				CodePath:       f.dir,
				Command:        scaffold.TrainCommand,
				Environment:    f.curated,
				Compute:        f.compute,
				DisplayName:    "train-curated-env",
				ExperimentName: f.experiment,
			}
			submitted, err := s.submitter.Submit(ctx, job)
			if err != nil {
				return err
			}
			printSubmitted(out, submitted)

			fmt.Fprintln(out, "Curated environments:")
			var first *domain.EnvironmentSummary
			it := s.environments.List(ctx)
			for it.Next() {
				if v := it.Value(); domain.IsCurated(v.Name) {
					fmt.Fprintf(out, "  %s (latest %s)\n", v.Name, v.LatestVersion)
					if first == nil {
						first = &v
					}
				}
			}
			if err := it.Err(); err != nil {
				return err
			}
			if first != nil {
				shown, err := s.environments.Get(ctx, first.Name, first.LatestVersion)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Environment %s version %s uses image %s\n", shown.Name, shown.Version, shown.Image)
			}

			plain, err := s.environments.CreateOrUpdate(ctx, environments.FromImage(
				"walkthrough-image-env", f.image, "Environment from a plain image"))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Registered %s\n", plain.Ref())

			manifest, err := environments.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			custom, err := s.environments.CreateOrUpdate(ctx, environments.FromImageWithManifest(
				manifest.Name, f.image, manifest, "Environment from an image and a conda file"))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Registered %s (build %s; the image is built on first use)\n", custom.Ref(), custom.BuildState)

			job.Environment = custom.Ref()
			job.DisplayName = "train-custom-env"
			submitted, err = s.submitter.Submit(ctx, job)
			if err != nil {
				return err
			}
			printSubmitted(out, submitted)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.dir, "dir", filepath.Join("walkthrough", "src"), "directory for the training script")
	fl.StringVar(&f.compute, "compute", "cpu-cluster", "compute target name")
	fl.StringVar(&f.curated, "curated-environment", domain.LatestEnvironment("curated-sklearn-1.5"), "curated environment reference")
	fl.StringVar(&f.image, "image", "python:3.10-slim", "base image for the custom environments")
	fl.StringVar(&f.experiment, "experiment", "training-walkthrough", "experiment name")
	return cmd
}

func newAutoMLWalkthroughCommand(a *app) *cobra.Command {
	var f autoMLFlags
	cmd := &cobra.Command{
		Use:   "automl",
		Short: "Configure a classification search in two stages and submit it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()
			details, err := s.client.Get(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Connected to workspace %s\n", details.Name)

			spec, err := f.job()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Searching %s models for %q by %s, %d folds, at most %d trials\n",
				spec.Task, spec.TargetColumn, spec.PrimaryMetric, spec.CrossValidations, spec.Limits.MaxTrials)
			submitted, err := s.submitter.SubmitAutoML(ctx, spec)
			if err != nil {
				return err
			}
			printSubmitted(out, submitted)
			return nil
		},
	}
	f.register(cmd, "cpu-cluster", "azureml:diabetes-training:1", "Diabetic")
	return cmd
}
