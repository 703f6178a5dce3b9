package state

import (
	"testing"
)

func TestJobStatus_String(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{name: "Pending status", status: StatusPending, expected: "pending"},
		{name: "Running status", status: StatusRunning, expected: "running"},
		{name: "Completed status", status: StatusCompleted, expected: "completed"},
		{name: "Failed status", status: StatusFailed, expected: "failed"},
		{name: "Retrying status", status: StatusRetrying, expected: "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.status.String()
			if result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     JobStatus
		to       JobStatus
		expected bool
	}{
		{name: "Valid: Pending to Running", from: StatusPending, to: StatusRunning, expected: true},
		{name: "Valid: Running to Completed", from: StatusRunning, to: StatusCompleted, expected: true},
		{name: "Valid: Running to Retrying", from: StatusRunning, to: StatusRetrying, expected: true},
		{name: "Valid: Running to Failed", from: StatusRunning, to: StatusFailed, expected: true},
		{name: "Valid: Retrying to Pending", from: StatusRetrying, to: StatusPending, expected: true},
		{name: "Valid: Running to Pending (reclaim)", from: StatusRunning, to: StatusPending, expected: true},
		{name: "Invalid: Pending to Completed", from: StatusPending, to: StatusCompleted, expected: false},
		{name: "Invalid: Retrying to Running", from: StatusRetrying, to: StatusRunning, expected: false},
		{name: "Invalid: Completed to Failed", from: StatusCompleted, to: StatusFailed, expected: false},
		{name: "Invalid: Failed to Pending", from: StatusFailed, to: StatusPending, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusCompleted || s == StatusFailed
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, s.IsTerminal(), want)
		}
	}
}

func TestRunStatus_IsFinal(t *testing.T) {
	if RunStarted.IsFinal() || RunDispatched.IsFinal() {
		t.Error("started/dispatched executions must stay open")
	}
	if !RunSucceeded.IsFinal() || !RunFailed.IsFinal() {
		t.Error("succeeded/failed executions must be closed")
	}
}
