package model

import (
	"time"
)

// JobState is the phase of the process-wide scan job.
type JobState int

const (
	StateIdle JobState = iota // no scan was requested yet
	StateRunning
	StateCompleted // Result holds the outcome of the last run
)

func (s JobState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "scanning"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// FailureKind classifies a failed run. The zero value means success.
type FailureKind string

const (
	FailureDeviceUnavailable FailureKind = "device_unavailable"
	FailureTransfer          FailureKind = "transfer_failure"
	FailureEncode            FailureKind = "encode_failure"
	FailureCanceled          FailureKind = "canceled"
	FailureTimeout           FailureKind = "timeout"
	FailureUnexpected        FailureKind = "unexpected_fault"
)

// ScanResult is the terminal outcome of a run: either File is set, or
// Kind and Error are.
type ScanResult struct {
	File  string
	Kind  FailureKind
	Error string
}

func (r ScanResult) Success() bool {
	return r.Kind == ""
}

func (r ScanResult) Canceled() bool {
	return r.Kind == FailureCanceled
}

func Failure(kind FailureKind, msg string) ScanResult {
	return ScanResult{Kind: kind, Error: msg}
}

// Status is a snapshot of the scan job.
type Status struct {
	State   JobState
	JobID   string // empty while idle
	Started time.Time
	Stopped time.Time
	Result  ScanResult // valid in StateCompleted only
}
