package main

import (
	"fmt"
	"time"
)

// MissingParameterError reports a caller error: a universally required
// field (stack name, instance type) was empty. Raised before any
// provider call is made.
type MissingParameterError struct {
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Parameter)
}

// NoPricingDataError indicates that no availability zone returned a
// spot price for the instance type. Launching blind risks unbounded
// spot cost, so this is a hard failure, never defaulted.
type NoPricingDataError struct {
	InstanceType string
	Region       string
}

func (e *NoPricingDataError) Error() string {
	return fmt.Sprintf("no spot pricing data for %s in %s", e.InstanceType, e.Region)
}

// PriceExceedsLimitError indicates the cheapest available spot price
// is above the configured ceiling.
type PriceExceedsLimitError struct {
	InstanceType     string
	AvailabilityZone string
	BestPrice        float64
	MaxPrice         float64
}

func (e *PriceExceedsLimitError) Error() string {
	return fmt.Sprintf("best spot price $%.4f/h for %s (%s) exceeds limit $%.4f/h",
		e.BestPrice, e.InstanceType, e.AvailabilityZone, e.MaxPrice)
}

// LaunchTimeoutError indicates the provider accepted a launch request
// but the instance never reached a usable state within the polling
// budget.
type LaunchTimeoutError struct {
	StackName string
	Phase     string
	Attempts  int
	Interval  time.Duration
}

func (e *LaunchTimeoutError) Error() string {
	return fmt.Sprintf("stack %s: timed out waiting for %s after %d attempts (%s interval)",
		e.StackName, e.Phase, e.Attempts, e.Interval)
}

// ProviderAPIError wraps a failed cloud API call. Read calls are
// retried a bounded number of times before one of these surfaces;
// destructive and launch calls are never silently retried.
type ProviderAPIError struct {
	Op  string
	Err error
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("provider call %s failed: %v", e.Op, e.Err)
}

func (e *ProviderAPIError) Unwrap() error { return e.Err }
