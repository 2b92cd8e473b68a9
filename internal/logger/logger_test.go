package logger

import (
	"context"
	"testing"
)

func TestWithExperimentID_And_ExperimentIDFromContext(t *testing.T) {
	ctx := context.Background()
	experimentID := "6f1c0e2a-1111-2222-3333-444455556666"

	// Initially empty
	if got := ExperimentIDFromContext(ctx); got != "" {
		t.Errorf("ExperimentIDFromContext() on empty ctx = %v, want empty", got)
	}

	// After setting
	ctx = WithExperimentID(ctx, experimentID)
	if got := ExperimentIDFromContext(ctx); got != experimentID {
		t.Errorf("ExperimentIDFromContext() = %v, want %v", got, experimentID)
	}
}

func TestFromContext_WithExperimentID(t *testing.T) {
	base := New()
	ctx := context.Background()

	// Without experiment ID - should return base logger (not nil)
	logger := FromContext(ctx, base)
	if logger == nil {
		t.Error("FromContext() returned nil")
	}

	// With experiment ID - should return logger with experiment_id attached
	ctx = WithExperimentID(ctx, "exp-1")
	loggerWithID := FromContext(ctx, base)
	if loggerWithID == nil {
		t.Error("FromContext() with experiment ID returned nil")
	}
}

func TestNew_ReturnsLogger(t *testing.T) {
	logger := New()
	if logger == nil {
		t.Error("New() returned nil")
	}
}
