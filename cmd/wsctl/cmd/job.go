package cmd

import (
	"fmt"
	"io"

	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/animus-labs/wsctl/internal/jobs"
	"github.com/spf13/cobra"
)

type jobFlags struct {
	file        string
	name        string
	code        string
	command     string
	environment string
	compute     string
	displayName string
	experiment  string
	description string
	tags        map[string]string
	envVars     map[string]string
}

func newJobCommand(a *app) *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect command jobs",
	}
	job.AddCommand(newJobSubmitCommand(a), newJobShowCommand(a))
	return job
}

func newJobSubmitCommand(a *app) *cobra.Command {
	var f jobFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a code directory and run a command on a compute target",
		Long: `Uploads the code directory in full and creates a command job. The command
returns once the job is accepted; follow progress through the printed URL.

The job can come from a YAML file (-f) with the keys code, command,
environment, compute, display_name, experiment_name, description, tags and
environment_variables. Flags given on the command line override the file.`,
		Example: `  wsctl job submit --code ./src --command "python train.py --reg-rate 0.01" \
    --environment curated-sklearn-1.5@latest --compute cpu-cluster \
    --display-name diabetes-train --experiment diabetes-training`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := f.commandJob(cmd)
			if err != nil {
				return err
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			submitted, err := s.submitter.Submit(cmd.Context(), spec)
			if err != nil {
				return err
			}
			printSubmitted(cmd.OutOrStdout(), submitted)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "YAML job definition")
	fl.StringVar(&f.name, "name", "", "job name (default: generated)")
	fl.StringVar(&f.code, "code", "", "local code directory to upload")
	fl.StringVar(&f.command, "command", "", "command to run inside the code directory")
	fl.StringVar(&f.environment, "environment", "", "environment reference, name@latest or name:version")
	fl.StringVar(&f.compute, "compute", "", "compute target name")
	fl.StringVar(&f.displayName, "display-name", "", "display name")
	fl.StringVar(&f.experiment, "experiment", "", "experiment name")
	fl.StringVar(&f.description, "description", "", "description")
	fl.StringToStringVar(&f.tags, "tag", nil, "tag as key=value (repeatable)")
	fl.StringToStringVar(&f.envVars, "env", nil, "environment variable as KEY=VALUE (repeatable)")
	return cmd
}

// commandJob merges the job file, if any, with explicitly set flags.
func (f *jobFlags) commandJob(cmd *cobra.Command) (domain.CommandJob, error) {
	var spec domain.CommandJob
	if f.file != "" {
		loaded, err := jobs.LoadCommandJobFile(f.file)
		if err != nil {
			return domain.CommandJob{}, configError{err: err}
		}
		spec = loaded
	}
	set := func(flag string, dst *string, v string) {
		if f.file == "" || cmd.Flags().Changed(flag) {
			*dst = v
		}
	}
	set("name", &spec.Name, f.name)
	set("code", &spec.CodePath, f.code)
	set("command", &spec.Command, f.command)
	set("environment", &spec.Environment, f.environment)
	set("compute", &spec.Compute, f.compute)
	set("display-name", &spec.DisplayName, f.displayName)
	set("experiment", &spec.ExperimentName, f.experiment)
	set("description", &spec.Description, f.description)
	if len(f.tags) > 0 {
		if spec.Tags == nil {
			spec.Tags = domain.Tags{}
		}
		for k, v := range f.tags {
			spec.Tags[k] = v
		}
	}
	if len(f.envVars) > 0 {
		if spec.EnvVars == nil {
			spec.EnvVars = map[string]string{}
		}
		for k, v := range f.envVars {
			spec.EnvVars[k] = v
		}
	}
	if spec.CodePath == "" {
		return domain.CommandJob{}, invalidConfig("--code or a job file with code is required")
	}
	return spec, nil
}

func newJobShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a job's status and monitoring URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			got, err := s.submitter.Show(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", got.Name)
			fmt.Fprintf(out, "Type:       %s\n", got.Type)
			fmt.Fprintf(out, "Status:     %s\n", got.Status)
			if got.ExperimentName != "" {
				fmt.Fprintf(out, "Experiment: %s\n", got.ExperimentName)
			}
			if !got.CreatedAt.IsZero() {
				fmt.Fprintf(out, "Created:    %s\n", got.CreatedAt.Local().Format("Mon, 02 Jan 2006 15:04:05 MST"))
			}
			fmt.Fprintf(out, "Monitor:    %s\n", got.StudioURL)
			return nil
		},
	}
}

func printSubmitted(out io.Writer, job domain.SubmittedJob) {
	fmt.Fprintf(out, "Submitted job %s (%s)\n", job.Name, job.Status)
	fmt.Fprintf(out, "Monitor: %s\n", job.StudioURL)
}
