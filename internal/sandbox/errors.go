package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind classifies which stage of an execution failed.
type ErrorKind int

const (
	KindUnclassifiedFault ErrorKind = iota
	KindConfigurationMissing
	KindInfrastructureUnavailable
	KindWorkspaceIO
	KindLaunchFailure
	KindExecutionTimeout
	KindExecutionFailure
	KindRemovalFailure
)

var kindNames = map[ErrorKind]string{
	KindUnclassifiedFault:         "unclassified_fault",
	KindConfigurationMissing:      "configuration_missing",
	KindInfrastructureUnavailable: "infrastructure_unavailable",
	KindWorkspaceIO:               "workspace_io",
	KindLaunchFailure:             "launch_failure",
	KindExecutionTimeout:          "execution_timeout",
	KindExecutionFailure:          "execution_failure",
	KindRemovalFailure:            "removal_failure",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error_kind(%d)", int(k))
}

// Error is a failure tagged with the stage that produced it.
type Error struct {
	Kind    ErrorKind
	Op      string // stage: provision, stage, launch, wait, logs, remove, classify
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindUnclassifiedFault for errors that
// did not come from this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnclassifiedFault
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
