package domain

import "time"

// JobType discriminates the job payloads accepted by the control plane.
type JobType string

const (
	JobTypeCommand JobType = "command"
	JobTypeAutoML  JobType = "automl"
)

// CommandJob runs a command from an uploaded code directory on a compute target.
type CommandJob struct {
	// Name is optional; a unique one is generated at submission when empty.
	Name           string
	CodePath       string
	Command        string
	Environment    string
	Compute        string
	DisplayName    string
	ExperimentName string
	Description    string
	Tags           Tags
	EnvVars        map[string]string
}

// Clone returns a deep copy so callers can keep mutating their own value.
func (j CommandJob) Clone() CommandJob {
	out := j
	out.Tags = j.Tags.Clone()
	out.EnvVars = cloneStringMap(j.EnvVars)
	return out
}

type JobStatus string

const (
	JobStatusNotStarted JobStatus = "NotStarted"
	JobStatusQueued     JobStatus = "Queued"
	JobStatusRunning    JobStatus = "Running"
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusFailed     JobStatus = "Failed"
	JobStatusCanceled   JobStatus = "Canceled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// SubmittedJob is what the control plane returns after a create request.
type SubmittedJob struct {
	Name           string
	Type           JobType
	DisplayName    string
	ExperimentName string
	Status         JobStatus
	StudioURL      string
	CreatedAt      time.Time
}
