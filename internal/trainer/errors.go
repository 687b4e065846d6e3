package trainer

import "errors"

var (
	// ErrExperimentActive means a candidate prompt is already being tested
	// and new training must wait for the experiment to conclude.
	ErrExperimentActive = errors.New("experiment still active: a candidate prompt is being tested")

	// ErrNoActivePrompt means there is no active prompt to train against.
	ErrNoActivePrompt = errors.New("no active prompt exists")

	// ErrEmptyDataset means no usable interactions survived the dataset
	// pipeline.
	ErrEmptyDataset = errors.New("training dataset is empty")

	// ErrUnsupportedOptimizer means the configured optimizer name is not
	// registered.
	ErrUnsupportedOptimizer = errors.New("unsupported optimizer")

	// ErrOptimizeFailed wraps optimizer execution failures, LLM errors
	// included.
	ErrOptimizeFailed = errors.New("prompt optimization failed")
)
