package domain

import "time"

type TaskType string

const TaskClassification TaskType = "classification"

// TrainingData references a registered tabular input.
type TrainingData struct {
	URI  string
	Type string
}

// AutoMLLimits bounds the remote search. Zero values are left to the service.
type AutoMLLimits struct {
	Timeout                time.Duration
	TrialTimeout           time.Duration
	MaxTrials              int
	EnableEarlyTermination bool
}

// AutoMLTraining constrains which models the search may produce.
type AutoMLTraining struct {
	BlockedAlgorithms       []string
	EnableONNXCompatibility bool
}

// AutoMLJob is an automated model-selection request.
type AutoMLJob struct {
	Task             TaskType
	Compute          string
	ExperimentName   string
	DisplayName      string
	TrainingData     TrainingData
	TargetColumn     string
	PrimaryMetric    string
	CrossValidations int
	Limits           *AutoMLLimits
	Training         *AutoMLTraining
	Tags             Tags
}

func (j AutoMLJob) Clone() AutoMLJob {
	out := j
	out.Tags = j.Tags.Clone()
	if j.Limits != nil {
		l := *j.Limits
		out.Limits = &l
	}
	if j.Training != nil {
		t := *j.Training
		t.BlockedAlgorithms = cloneStrings(j.Training.BlockedAlgorithms)
		out.Training = &t
	}
	return out
}
