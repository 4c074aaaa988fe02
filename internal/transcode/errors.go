package transcode

import (
	"fmt"
	"strings"
)

// Error describes a failed ffmpeg invocation.
type Error struct {
	Stage    string
	ExitCode int
	TimedOut bool
	Output   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transcode %s", e.Stage)
	switch {
	case e.TimedOut:
		b.WriteString(": timed out")
	case e.ExitCode != 0:
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := lastLine(e.Output); out != "" {
		b.WriteString(": ")
		b.WriteString(out)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for logs and metrics.
func (e *Error) ErrorKind() string {
	if e.TimedOut {
		return "timeout"
	}
	return "tool"
}

func lastLine(output string) string {
	output = strings.TrimSpace(output)
	if i := strings.LastIndexByte(output, '\n'); i >= 0 {
		output = output[i+1:]
	}
	return output
}
