package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	commonErrors "github.com/Deepreo/jobscheduler/errors"
)

func TestExtendError(t *testing.T) {
	baseErr := errors.New("base error")

	t.Run("Wrap and Unwrap", func(t *testing.T) {
		parseErr := commonErrors.ScheduleParseError(baseErr)

		if !commonErrors.Is(parseErr, baseErr) {
			t.Error("Expected parseErr to wrap baseErr")
		}

		unwrapped := errors.Unwrap(parseErr)
		if unwrapped != baseErr {
			t.Errorf("Expected unwrapped error to be baseErr, got %v", unwrapped)
		}
	})

	t.Run("Code and Metadata", func(t *testing.T) {
		err := commonErrors.EvaluationError(baseErr).
			WithCode("NO_NEXT_TRIGGER").
			WithMetadata("job", "cleanup")

		if err.Code != "NO_NEXT_TRIGGER" {
			t.Errorf("Expected code 'NO_NEXT_TRIGGER', got %s", err.Code)
		}

		if val, ok := err.Metadata["job"]; !ok || val != "cleanup" {
			t.Errorf("Expected metadata job=cleanup, got %v", val)
		}

		expectedMsg := "[NO_NEXT_TRIGGER] base error"
		if err.Error() != expectedMsg {
			t.Errorf("Expected error message '%s', got '%s'", expectedMsg, err.Error())
		}
	})

	t.Run("StackTrace", func(t *testing.T) {
		err := commonErrors.JobExecutionFailure(baseErr)
		if err.StackTrace == "" {
			t.Error("Expected stack trace to be present")
		}
		if !strings.Contains(err.StackTrace, "errors_test.go") {
			t.Error("Expected stack trace to contain test file name")
		}
	})

	t.Run("Rewrap keeps first level", func(t *testing.T) {
		err := commonErrors.LifecycleError(commonErrors.ScheduleParseError(baseErr))
		if err.Level != commonErrors.ERR_SCHEDULE_PARSE {
			t.Errorf("Expected level %s, got %s", commonErrors.ERR_SCHEDULE_PARSE, err.Level)
		}
	})

	t.Run("Level helpers see through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("registering job: %w", commonErrors.ScheduleParseError(baseErr))
		if !commonErrors.IsScheduleParseError(err) {
			t.Error("Expected IsScheduleParseError to return true")
		}
		if commonErrors.IsEvaluationError(err) {
			t.Error("Expected IsEvaluationError to return false")
		}
		if commonErrors.GetLevel(err) != commonErrors.ERR_SCHEDULE_PARSE {
			t.Errorf("Expected level schedule_parse, got %s", commonErrors.GetLevel(err))
		}
	})

	t.Run("Plain errors are unknown", func(t *testing.T) {
		if commonErrors.GetLevel(baseErr) != commonErrors.ERR_UNKNOWN {
			t.Error("Expected plain error to have unknown level")
		}
		if commonErrors.IsLifecycleError(nil) {
			t.Error("Expected nil error to have no level")
		}
	})
}

func TestLevelHelpersSeeJoinedErrors(t *testing.T) {
	joined := commonErrors.Join(
		errors.New("plain"),
		commonErrors.EvaluationError(errors.New("no next trigger")),
	)

	if !commonErrors.IsEvaluationError(joined) {
		t.Error("Expected joined error to carry the evaluation level")
	}
	if commonErrors.IsLifecycleError(joined) {
		t.Error("Did not expect a lifecycle level")
	}
	if commonErrors.Join() != nil {
		t.Error("Expected empty join to be nil")
	}
}
