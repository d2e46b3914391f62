package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal display.
// Debug mode adds the details map and the cause chain.
func FormatForCLI(err error, debug bool) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", e.Message)

	if e.Suggestion != "" {
		fmt.Fprintf(&sb, "Suggestion: %s\n", e.Suggestion)
	}

	if debug {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, e.Details[k])
		}
		if e.Cause != nil {
			fmt.Fprintf(&sb, "  cause: %v\n", e.Cause)
		}
	}

	fmt.Fprintf(&sb, "[%s]", e.Code)
	return sb.String()
}
