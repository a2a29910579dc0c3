package analytics

import "errors"

var (
	// ErrInsufficientHistory is returned when a series is too short to build
	// lag features and a validation window at the same time.
	ErrInsufficientHistory = errors.New("insufficient price history")
	// ErrInvalidSeries is returned when a series breaks the one-point-per-day contract.
	ErrInvalidSeries = errors.New("invalid price series")
	// ErrStatisticalFit is returned when the seasonal smoothing model cannot be fitted.
	ErrStatisticalFit = errors.New("statistical model fit failed")
	// ErrRegressionFit is returned when the tree ensemble cannot be trained.
	ErrRegressionFit = errors.New("regression model fit failed")
	// ErrFeatureAlignment is returned when a prediction vector is malformed after alignment.
	ErrFeatureAlignment = errors.New("feature alignment failed")
	// ErrClusterPrecondition is returned when the market set cannot be clustered.
	ErrClusterPrecondition = errors.New("cluster precondition violated")
)
