package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/notebook/internal/sandbox"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

// DefaultTimeout is the budget a run gets before the host gives up on it
const DefaultTimeout = 30 * time.Second

var (
	// ErrSuperseded is returned to a caller whose run was replaced by a newer one
	ErrSuperseded = errors.New("execution superseded by a newer run")
	// ErrTornDown is returned to a caller whose run was torn down explicitly
	ErrTornDown = errors.New("execution torn down")
)

// ConsoleEvent is one captured console call
type ConsoleEvent struct {
	Method    sandbox.ConsoleMethod `json:"method"`
	Args      []value.Value         `json:"args"`
	Timestamp time.Time             `json:"timestamp"`
}

// Outcome is the terminal result of a run
type Outcome struct {
	Success       bool                `json:"success"`
	Value         *value.Value        `json:"value,omitempty"`
	Error         *value.ErrorPayload `json:"error,omitempty"`
	ExecutionTime int64               `json:"executionTime"` // milliseconds
}

// Reason classifies how a run ended, for logs and metrics
type Reason string

const (
	ReasonSuccess    Reason = "success"
	ReasonError      Reason = "error"
	ReasonTimeout    Reason = "timeout"
	ReasonCrashed    Reason = "crashed"
	ReasonSuperseded Reason = "superseded"
	ReasonCancelled  Reason = "cancelled"
)

// Observer receives run lifecycle notifications
type Observer interface {
	ExecutionStarted()
	ExecutionFinished(reason Reason, duration time.Duration)
	ConsoleEvent(method string)
}

// TimeoutOutcome is the failure synthesized when a run exceeds its budget
func TimeoutOutcome(budget time.Duration) Outcome {
	return Outcome{
		Success: false,
		Error: &value.ErrorPayload{
			Name:    "TimeoutError",
			Message: fmt.Sprintf("Execution timeout (%s)", budget),
		},
		ExecutionTime: budget.Milliseconds(),
	}
}

// CancelledOutcome describes a run that ended without a result of its own
func CancelledOutcome(err error) Outcome {
	return Outcome{
		Success: false,
		Error: &value.ErrorPayload{
			Name:    "CancelledError",
			Message: err.Error(),
		},
	}
}

func crashedOutcome(elapsed time.Duration) Outcome {
	return Outcome{
		Success: false,
		Error: &value.ErrorPayload{
			Name:    "SandboxError",
			Message: "sandbox exited before reporting a result",
		},
		ExecutionTime: elapsed.Milliseconds(),
	}
}

func resultOutcome(msg sandbox.Message) Outcome {
	out := Outcome{
		Success:       msg.Success,
		ExecutionTime: msg.ExecutionTime,
	}
	if msg.Success {
		v := value.Undefined()
		if msg.Value != nil {
			v = *msg.Value
		}
		out.Value = &v
		return out
	}
	if msg.Error != nil {
		out.Error = msg.Error
	} else {
		out.Error = &value.ErrorPayload{Name: "Error", Message: "execution failed"}
	}
	return out
}

func (o Outcome) reason() Reason {
	if o.Success {
		return ReasonSuccess
	}
	return ReasonError
}
