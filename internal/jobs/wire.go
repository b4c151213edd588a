package jobs

import (
	"strings"
	"time"

	"github.com/animus-labs/wsctl/internal/domain"
)

type jobResource struct {
	Name       string        `json:"name,omitempty"`
	Properties jobProperties `json:"properties"`
}

type jobProperties struct {
	JobType              string             `json:"job_type"`
	DisplayName          string             `json:"display_name,omitempty"`
	ExperimentName       string             `json:"experiment_name,omitempty"`
	Description          string             `json:"description,omitempty"`
	Tags                 map[string]string  `json:"tags,omitempty"`
	ComputeID            string             `json:"compute_id,omitempty"`
	CodeID               string             `json:"code_id,omitempty"`
	Command              string             `json:"command,omitempty"`
	EnvironmentID        string             `json:"environment_id,omitempty"`
	EnvironmentVariables map[string]string  `json:"environment_variables,omitempty"`
	TaskDetails          *autoMLTask        `json:"task_details,omitempty"`
	Status               string             `json:"status,omitempty"`
	CreationTime         string             `json:"creation_time,omitempty"`
	Services             map[string]service `json:"services,omitempty"`
}

type service struct {
	Endpoint string `json:"endpoint"`
}

type autoMLTask struct {
	TaskType          string            `json:"task_type"`
	TargetColumnName  string            `json:"target_column_name,omitempty"`
	PrimaryMetric     string            `json:"primary_metric,omitempty"`
	TrainingData      *trainingData     `json:"training_data,omitempty"`
	NCrossValidations int               `json:"n_cross_validations,omitempty"`
	LimitSettings     *limitSettings    `json:"limit_settings,omitempty"`
	TrainingSettings  *trainingSettings `json:"training_settings,omitempty"`
}

type trainingData struct {
	URI          string `json:"uri"`
	JobInputType string `json:"job_input_type,omitempty"`
}

type limitSettings struct {
	TimeoutMinutes         int  `json:"timeout_minutes,omitempty"`
	TrialTimeoutMinutes    int  `json:"trial_timeout_minutes,omitempty"`
	MaxTrials              int  `json:"max_trials,omitempty"`
	EnableEarlyTermination bool `json:"enable_early_termination"`
}

type trainingSettings struct {
	BlockedTrainingAlgorithms  []string `json:"blocked_training_algorithms,omitempty"`
	EnableOnnxCompatibleModels bool     `json:"enable_onnx_compatible_models"`
}

func commandResource(job domain.CommandJob, codeURI string) jobResource {
	return jobResource{
		Properties: jobProperties{
			JobType:              string(domain.JobTypeCommand),
			DisplayName:          job.DisplayName,
			ExperimentName:       job.ExperimentName,
			Description:          job.Description,
			Tags:                 job.Tags.Clone(),
			ComputeID:            job.Compute,
			CodeID:               codeURI,
			Command:              job.Command,
			EnvironmentID:        job.Environment,
			EnvironmentVariables: job.EnvVars,
		},
	}
}

func autoMLResource(job domain.AutoMLJob) jobResource {
	task := &autoMLTask{
		TaskType:          string(job.Task),
		TargetColumnName:  job.TargetColumn,
		PrimaryMetric:     job.PrimaryMetric,
		NCrossValidations: job.CrossValidations,
	}
	if job.TrainingData.URI != "" {
		task.TrainingData = &trainingData{URI: job.TrainingData.URI, JobInputType: job.TrainingData.Type}
	}
	if l := job.Limits; l != nil {
		task.LimitSettings = &limitSettings{
			TimeoutMinutes:         minutes(l.Timeout),
			TrialTimeoutMinutes:    minutes(l.TrialTimeout),
			MaxTrials:              l.MaxTrials,
			EnableEarlyTermination: l.EnableEarlyTermination,
		}
	}
	if tr := job.Training; tr != nil {
		task.TrainingSettings = &trainingSettings{
			BlockedTrainingAlgorithms:  tr.BlockedAlgorithms,
			EnableOnnxCompatibleModels: tr.EnableONNXCompatibility,
		}
	}
	return jobResource{
		Properties: jobProperties{
			JobType:        string(domain.JobTypeAutoML),
			DisplayName:    job.DisplayName,
			ExperimentName: job.ExperimentName,
			Tags:           job.Tags.Clone(),
			ComputeID:      job.Compute,
			TaskDetails:    task,
		},
	}
}

// minutes rounds up so a 90s limit is not sent as one minute.
func minutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

func (r jobResource) submitted(fallbackName string) domain.SubmittedJob {
	name := r.Name
	if name == "" {
		name = fallbackName
	}
	out := domain.SubmittedJob{
		Name:           name,
		Type:           domain.JobType(r.Properties.JobType),
		DisplayName:    r.Properties.DisplayName,
		ExperimentName: r.Properties.ExperimentName,
		Status:         domain.JobStatus(r.Properties.Status),
	}
	for key, svc := range r.Properties.Services {
		if strings.EqualFold(key, "studio") {
			out.StudioURL = svc.Endpoint
		}
	}
	if t, err := time.Parse(time.RFC3339, r.Properties.CreationTime); err == nil {
		out.CreatedAt = t
	}
	return out
}
