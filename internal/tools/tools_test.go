package tools

import (
	"context"
	"errors"
	"testing"
)

func TestErrorType(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", context.DeadlineExceeded, "timeout"},
		{"oom", &ExecError{Tool: "megahit", ExitCode: 137, Err: errors.New("signal: killed")}, "oom"},
		{"plain failure", &ExecError{Tool: "fastp", ExitCode: 1, Err: errors.New("exit status 1")}, ""},
		{"unrelated", errors.New("disk full"), ""},
	}
	for _, c := range cases {
		if got := ErrorType(c.err); got != c.want {
			t.Errorf("%s: ErrorType = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestExecErrorUnwrap(t *testing.T) {
	inner := errors.New("exit status 2")
	err := &ExecError{Tool: "blastn", ExitCode: 2, Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("ExecError should unwrap to the underlying error")
	}
}
