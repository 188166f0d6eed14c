package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/clipscript/internal/media"
	"github.com/sells-group/clipscript/internal/model"
)

// ValidationError rejects input before any task is created.
type ValidationError struct {
	Reason  string
	Invalid []string
}

func (e *ValidationError) Error() string {
	if len(e.Invalid) == 0 {
		return e.Reason
	}
	shown := e.Invalid
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(shown, ", "))
}

// IsValidation reports whether err is an input rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StageError is a failure inside one pipeline stage. Error returns the
// underlying message unchanged so it can be stored on the task verbatim.
type StageError struct {
	Stage model.TaskStatus
	Err   error
	// Command is set when the stage failed in an external tool.
	Command *media.CommandLog
}

func newStageError(stage model.TaskStatus, err error) *StageError {
	se := &StageError{Stage: stage, Err: err}
	var ce *media.CommandError
	if errors.As(err, &ce) {
		log := ce.Log
		se.Command = &log
	}
	return se
}

func (e *StageError) Error() string { return e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }
