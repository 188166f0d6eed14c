// Package media fetches remote videos with yt-dlp and extracts their audio
// with ffmpeg.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// CommandLog records one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stderr   string   `json:"stderr,omitempty"`
}

// CommandResult is the captured output of a finished process.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external processes. Tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// CommandError is a failed external command with its log attached.
type CommandError struct {
	Log CommandLog
	Err error
}

func (e *CommandError) Error() string {
	msg := lastLines(e.Log.Stderr, 3)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Log.Command, e.Log.ExitCode, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Exec runs name through r under a per-call timeout and converts failures
// into a *CommandError.
func Exec(ctx context.Context, r Runner, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := r.Run(ctx, name, args...)
	if err == nil {
		return res, nil
	}
	log := CommandLog{Command: name, Args: args, ExitCode: res.ExitCode, Stderr: tail(res.Stderr, 4096)}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = eris.Wrapf(ctx.Err(), "timed out after %s", timeout)
		log.Stderr = strings.TrimSpace(log.Stderr + "\n" + err.Error())
	}
	return res, &CommandError{Log: log, Err: err}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
