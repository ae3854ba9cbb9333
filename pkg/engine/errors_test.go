package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Format(t *testing.T) {
	cause := errors.New("no such state")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "bare",
			err:  NewInternalError("boom", nil),
			want: "[internal] boom",
		},
		{
			name: "query and operation",
			err:  NewQueryError("failed to replay witness", cause).WithQuery("fwd").WithOperation("witness"),
			want: "[query] failed to replay witness (query=fwd, operation=witness): no such state",
		},
		{
			name: "query only",
			err:  NewValidationError("bad query", cause).WithQuery("fwd"),
			want: "[validation] bad query (query=fwd): no such state",
		},
		{
			name: "operation only",
			err:  NewStorageError("write failed", nil).WithOperation("save_result"),
			want: "[storage] write failed (operation=save_result)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Classification(t *testing.T) {
	cause := errors.New("cause")
	wrapped := fmt.Errorf("failed to load model: %w", NewModelError("duplicate rule", cause))

	if !IsModel(wrapped) || !IsUserError(wrapped) {
		t.Error("Expected wrapped model error to classify as a user error")
	}
	if IsTimeout(wrapped) || IsStorage(wrapped) || IsPolicy(wrapped) || IsValidation(wrapped) {
		t.Error("Model error matched another class")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
	if !errors.Is(wrapped, &Error{Class: ErrorClassModel, Code: ErrCodeInvalidModel}) {
		t.Error("Expected errors.Is to match on class and code")
	}
	if got := ClassOf(wrapped); got != ErrorClassModel {
		t.Errorf("ClassOf = %s, want model", got)
	}
	if got := ClassOf(cause); got != ErrorClassInternal {
		t.Errorf("ClassOf plain error = %s, want internal", got)
	}
	if IsUserError(NewTimeoutError("slow", nil)) {
		t.Error("Timeout should not be a user error")
	}
	if !IsPolicy(NewPolicyError("bad rego", nil)) {
		t.Error("Expected policy error to classify")
	}
}

func TestError_WithDetail(t *testing.T) {
	err := NewSaturationError("too many states", nil).
		WithDetail("states", 10).
		WithDetail("limit", 5)
	if len(err.Details) != 2 || err.Details["states"] != 10 {
		t.Errorf("Unexpected details %v", err.Details)
	}
}

func TestParseDirectionAndVerdict(t *testing.T) {
	for in, want := range map[string]Direction{
		"forward": Forward, "post*": Forward, "POST": Forward,
		"backward": Backward, "pre": Backward, " pre* ": Backward,
	} {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("Expected error for unknown direction")
	}

	for in, want := range map[string]Verdict{"": "", "reachable": VerdictReachable, "Unreachable": VerdictUnreachable} {
		got, err := ParseVerdict(in)
		if err != nil || got != want {
			t.Errorf("ParseVerdict(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseVerdict("maybe"); err == nil {
		t.Error("Expected error for unknown verdict")
	}
}

func TestRunStatus(t *testing.T) {
	if StatusFor(Summary{Total: 1, Reachable: 1}, nil) != RunStatusSucceeded {
		t.Error("Clean summary should succeed")
	}
	if StatusFor(Summary{Total: 1, Mismatched: 1}, nil) != RunStatusFailed {
		t.Error("Mismatch should fail the run")
	}
	if StatusFor(Summary{}, errors.New("cancelled")) != RunStatusCancelled {
		t.Error("Run error should cancel the run")
	}
	if RunStatusRunning.IsTerminal() || !RunStatusFailed.IsTerminal() {
		t.Error("Unexpected terminal states")
	}
	if err := RunStatus("paused").Validate(); err == nil {
		t.Error("Expected invalid status error")
	}
}
