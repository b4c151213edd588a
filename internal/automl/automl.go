// Package automl configures automated model-selection jobs in two stages: a
// base definition, then optional search limits and training constraints.
// Values are passed through untouched; the control plane rejects unknown
// metrics or algorithms when the job is submitted.
package automl

import (
	"errors"

	"github.com/animus-labs/wsctl/internal/domain"
)

// Well-known classification metrics.
const (
	MetricAccuracy                      = "accuracy"
	MetricAUCWeighted                   = "AUC_weighted"
	MetricAveragePrecisionScoreWeighted = "average_precision_score_weighted"
	MetricNormMacroRecall               = "norm_macro_recall"
	MetricPrecisionScoreWeighted        = "precision_score_weighted"
)

// Well-known classification algorithms, usable in Training.BlockedAlgorithms.
const (
	AlgorithmLogisticRegression = "LogisticRegression"
	AlgorithmSGD                = "SGD"
	AlgorithmMultinomialNB      = "MultinomialNaiveBayes"
	AlgorithmBernoulliNB        = "BernoulliNaiveBayes"
	AlgorithmSVM                = "SVM"
	AlgorithmLinearSVM          = "LinearSVM"
	AlgorithmKNN                = "KNN"
	AlgorithmDecisionTree       = "DecisionTree"
	AlgorithmRandomForest       = "RandomForest"
	AlgorithmExtremeRandomTrees = "ExtremeRandomTrees"
	AlgorithmLightGBM           = "LightGBM"
	AlgorithmGradientBoosting   = "GradientBoosting"
	AlgorithmXGBoostClassifier  = "XGBoostClassifier"
)

// InputMLTable is the job input type for registered tabular data.
const InputMLTable = "mltable"

var ErrAlreadyConfigured = errors.New("automl: setting already configured for this job")

type (
	Limits   = domain.AutoMLLimits
	Training = domain.AutoMLTraining
)

// Base is the first configuration stage.
type Base struct {
	Compute          string
	ExperimentName   string
	DisplayName      string
	TrainingData     domain.TrainingData
	TargetColumn     string
	PrimaryMetric    string
	CrossValidations int
	Tags             domain.Tags
}

// Job accumulates one AutoML request. It is not safe for concurrent use.
type Job struct {
	spec domain.AutoMLJob
}

func NewClassification(base Base) *Job {
	return &Job{spec: domain.AutoMLJob{
		Task:             domain.TaskClassification,
		Compute:          base.Compute,
		ExperimentName:   base.ExperimentName,
		DisplayName:      base.DisplayName,
		TrainingData:     base.TrainingData,
		TargetColumn:     base.TargetColumn,
		PrimaryMetric:    base.PrimaryMetric,
		CrossValidations: base.CrossValidations,
		Tags:             base.Tags.Clone(),
	}}
}

// SetLimits bounds the search. It may be called once per job.
func (j *Job) SetLimits(l Limits) error {
	if j.spec.Limits != nil {
		return ErrAlreadyConfigured
	}
	j.spec.Limits = &l
	return nil
}

// SetTraining constrains the candidate models. It may be called once per job.
func (j *Job) SetTraining(t Training) error {
	if j.spec.Training != nil {
		return ErrAlreadyConfigured
	}
	t.BlockedAlgorithms = append([]string(nil), t.BlockedAlgorithms...)
	j.spec.Training = &t
	return nil
}

// Spec returns a copy of the configured request.
func (j *Job) Spec() domain.AutoMLJob {
	return j.spec.Clone()
}
