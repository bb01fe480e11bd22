// Package log defines standard attribute keys for model training and decoding.
//
// Keys follow a hierarchical naming convention ("model.name", "data.samples")
// so logs from different estimators can be filtered the same way.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model.
	// Examples: "KMeans", "GaussianMixture", "GMMHMM"
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies a specific model instance (a UUID string).
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	// Standard values: the Operation* constants below.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape
const (
	// SamplesKey is the number of points, or the sequence length T.
	SamplesKey = "data.samples"

	// FeaturesKey is the feature dimension D.
	FeaturesKey = "data.features"

	// StatesKey is the number of hidden states N.
	StatesKey = "model.states"

	// StateKey identifies one hidden state of an HMM.
	StateKey = "hmm.state"

	// ComponentsKey is the number of mixture components K.
	ComponentsKey = "model.components"

	// ClustersKey is the number of KMeans clusters.
	ClustersKey = "model.clusters"
)

// Training Progress
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// IterationKey records the current iteration number.
	IterationKey = "training.iteration"

	// PassKey records the current segmental initialisation pass.
	PassKey = "training.pass"

	// LogLikelihoodKey records a total log-likelihood.
	LogLikelihoodKey = "metrics.log_likelihood"

	// DeltaKey records the relative change of the training objective.
	DeltaKey = "metrics.delta"

	// ChangedKey records how many hard assignments changed in an iteration.
	ChangedKey = "training.changed"

	// ConvergedKey records whether the stopping rule was met.
	ConvergedKey = "training.converged"

	// AccuracyKey records decoding accuracy.
	AccuracyKey = "metrics.accuracy"

	// DivergenceKey records a model divergence estimate.
	DivergenceKey = "metrics.divergence"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Configuration
const (
	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// StrategyKey records the EM strategy in use.
	StrategyKey = "config.strategy"

	// CovarianceTypeKey records the covariance constraint.
	CovarianceTypeKey = "config.covariance_type"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationRandomize = "randomize"
	OperationTrain     = "train"
	OperationEvaluate  = "evaluate"
	OperationDecode    = "decode"
	OperationGenerate  = "generate"
	OperationCompare   = "compare"
	OperationSegmental = "segmental_init"
	OperationTransform = "transform"
	OperationPersist   = "persist"

	PhaseTraining      = "training"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
	ErrorSingularMatrix    = "SINGULAR_MATRIX"
)
