package sandbox

import "fmt"

// Classify flattens a raw result into the caller-facing outcome. Exit code 0
// is success regardless of stderr.
func Classify(res *Result) (string, error) {
	if res == nil {
		return "", &Error{Kind: KindUnclassifiedFault, Op: "classify", Message: "no result to classify"}
	}
	if !res.Exited {
		return "", &Error{Kind: KindExecutionFailure, Op: "execute", Message: "script exited without a status code"}
	}
	if res.ExitCode == 0 {
		return res.Stdout, nil
	}

	var msg string
	if res.Stderr != "" {
		msg = fmt.Sprintf("script execution failed with status code %d:\n%s", res.ExitCode, res.Stderr)
	} else {
		msg = fmt.Sprintf("script execution failed with status code %d and no error output", res.ExitCode)
	}
	return "", &Error{Kind: KindExecutionFailure, Op: "execute", Message: msg}
}
