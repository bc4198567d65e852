package sandbox

import "context"

// Request describes one script execution.
type Request struct {
	Script    string            // Script source, written into the workspace
	Workspace string            // Host directory owned by this execution
	Env       map[string]string // Overrides merged over the policy defaults
}

// Result is the raw outcome of a container run before classification.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Exited   bool // false when the runtime reported no status code

	StdoutTruncated bool
	StderrTruncated bool
}

// Sandbox runs scripts in an isolated environment.
type Sandbox interface {
	// Exec runs the script and returns the raw result. A non-zero exit code
	// is not an error at this level.
	Exec(ctx context.Context, req Request) (*Result, error)
	// Run executes the script and classifies the outcome: stdout on success,
	// a *Error otherwise.
	Run(ctx context.Context, req Request) (string, error)
}
