package sandbox

import (
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

// MessageType identifies a protocol message
type MessageType string

const (
	MsgReady   MessageType = "ready"   // context -> host
	MsgExecute MessageType = "execute" // host -> context
	MsgConsole MessageType = "console" // context -> host
	MsgError   MessageType = "error"   // context -> host, uncaught failure
	MsgResult  MessageType = "result"  // context -> host, terminal
)

// ConsoleMethod is one of the captured console functions
type ConsoleMethod string

const (
	ConsoleLog   ConsoleMethod = "log"
	ConsoleWarn  ConsoleMethod = "warn"
	ConsoleError ConsoleMethod = "error"
	ConsoleInfo  ConsoleMethod = "info"
)

// ConsoleMethods lists the console functions installed in every context
var ConsoleMethods = []ConsoleMethod{ConsoleLog, ConsoleWarn, ConsoleError, ConsoleInfo}

// Message is the single envelope used in both directions. Which fields are
// set depends on Type.
type Message struct {
	Type MessageType `json:"type"`

	// execute
	Code string `json:"code,omitempty"`

	// console
	Method ConsoleMethod `json:"method,omitempty"`
	Args   []value.Value `json:"args,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`

	// result
	Success       bool                `json:"success,omitempty"`
	Value         *value.Value        `json:"value,omitempty"`
	Error         *value.ErrorPayload `json:"error,omitempty"`
	ExecutionTime int64               `json:"executionTime,omitempty"`
}

// Ready builds a ready message
func Ready() Message { return Message{Type: MsgReady} }

// Execute builds an execute message
func Execute(code string) Message { return Message{Type: MsgExecute, Code: code} }

// Console builds a console message
func Console(method ConsoleMethod, args []value.Value) Message {
	return Message{Type: MsgConsole, Method: method, Args: args}
}

// Uncaught builds an error message for a failure no script code caught
func Uncaught(p value.ErrorPayload) Message {
	return Message{Type: MsgError, Message: p.Message, Stack: p.Stack}
}

// Success builds a terminal result carrying a return value
func Success(v value.Value, ms int64) Message {
	return Message{Type: MsgResult, Success: true, Value: &v, ExecutionTime: ms}
}

// Failure builds a terminal result carrying a thrown error
func Failure(p value.ErrorPayload, ms int64) Message {
	return Message{Type: MsgResult, Success: false, Error: &p, ExecutionTime: ms}
}
