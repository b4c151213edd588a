package cmd

import (
	"time"

	"github.com/animus-labs/wsctl/internal/automl"
	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/spf13/cobra"
)

type autoMLFlags struct {
	compute          string
	experiment       string
	displayName      string
	data             string
	dataType         string
	target           string
	metric           string
	crossValidations int
	timeout          time.Duration
	trialTimeout     time.Duration
	maxTrials        int
	earlyTermination bool
	blocked          []string
	onnx             bool
	tags             map[string]string
}

// register binds the flags; compute, data and target are the defaults for the
// three values that have no sensible global default.
func (f *autoMLFlags) register(cmd *cobra.Command, compute, data, target string) {
	fl := cmd.Flags()
	fl.StringVar(&f.compute, "compute", compute, "compute target name")
	fl.StringVar(&f.experiment, "experiment", "auto-ml-training", "experiment name")
	fl.StringVar(&f.displayName, "display-name", "", "display name")
	fl.StringVar(&f.data, "data", data, "registered training data reference, for example azureml:diabetes-training:1")
	fl.StringVar(&f.dataType, "data-type", automl.InputMLTable, "training data input type")
	fl.StringVar(&f.target, "target", target, "target column name")
	fl.StringVar(&f.metric, "metric", automl.MetricAUCWeighted, "primary metric")
	fl.IntVar(&f.crossValidations, "cross-validations", 5, "number of cross-validation folds")
	fl.DurationVar(&f.timeout, "timeout", 60*time.Minute, "wall-clock limit for the whole search")
	fl.DurationVar(&f.trialTimeout, "trial-timeout", 20*time.Minute, "limit for one trial")
	fl.IntVar(&f.maxTrials, "max-trials", 5, "maximum number of trials")
	fl.BoolVar(&f.earlyTermination, "early-termination", true, "stop the search early when scores stop improving")
	fl.StringSliceVar(&f.blocked, "block", []string{automl.AlgorithmLogisticRegression}, "algorithms the search must not try")
	fl.BoolVar(&f.onnx, "onnx", true, "only produce ONNX compatible models")
	fl.StringToStringVar(&f.tags, "tag", nil, "tag as key=value (repeatable)")
}

// job builds the request in two stages: base, then limits and training.
func (f *autoMLFlags) job() (domain.AutoMLJob, error) {
	job := automl.NewClassification(automl.Base{
		Compute:          f.compute,
		ExperimentName:   f.experiment,
		DisplayName:      f.displayName,
		TrainingData:     domain.TrainingData{URI: f.data, Type: f.dataType},
		TargetColumn:     f.target,
		PrimaryMetric:    f.metric,
		CrossValidations: f.crossValidations,
		Tags:             domain.Tags(f.tags),
	})
	if err := job.SetLimits(automl.Limits{
		Timeout:                f.timeout,
		TrialTimeout:           f.trialTimeout,
		MaxTrials:              f.maxTrials,
		EnableEarlyTermination: f.earlyTermination,
	}); err != nil {
		return domain.AutoMLJob{}, err
	}
	if err := job.SetTraining(automl.Training{
		BlockedAlgorithms:       f.blocked,
		EnableONNXCompatibility: f.onnx,
	}); err != nil {
		return domain.AutoMLJob{}, err
	}
	return job.Spec(), nil
}

func newAutoMLCommand(a *app) *cobra.Command {
	automlCmd := &cobra.Command{
		Use:   "automl",
		Short: "Configure and submit automated model selection jobs",
	}
	var f autoMLFlags
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a classification search",
		Long: `Submits an AutoML classification job. Metric and algorithm names are sent as
given; the workspace rejects unknown values when the job is created.`,
		Example: `  wsctl automl submit --compute cpu-cluster --data azureml:diabetes-training:1 \
    --target Diabetic --metric AUC_weighted --max-trials 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := f.job()
			if err != nil {
				return err
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			submitted, err := s.submitter.SubmitAutoML(cmd.Context(), spec)
			if err != nil {
				return err
			}
			printSubmitted(cmd.OutOrStdout(), submitted)
			return nil
		},
	}
	f.register(submit, "", "", "")
	automlCmd.AddCommand(submit)
	return automlCmd
}
