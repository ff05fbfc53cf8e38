// Package runner launches the local coding agent as a subprocess, streams its
// output, and enforces timeout and cancellation with a bounded kill grace.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	defaultTimeout   = 300 * time.Second
	defaultGrace     = 5 * time.Second
	maxStderrExcerpt = 500
)

// Runner spawns agent invocations. Zero values fall back to defaults; Bin and
// WorkDir come from configuration.
type Runner struct {
	Bin      string
	WorkDir  string
	Model    string
	MaxTurns int
	Timeout  time.Duration
	Grace    time.Duration // SIGTERM→SIGKILL window
}

// Request describes one invocation.
type Request struct {
	Prompt        string
	ResumeSession string // agent session id to resume, empty for a fresh session
}

// Start spawns the agent and returns a handle streaming its output. The only
// error returned here is spawn failure; everything after a successful spawn
// is reported through the handle's Result.
func (r *Runner) Start(ctx context.Context, req Request) (*Run, error) {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	if r.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(r.MaxTurns))
	}
	if req.ResumeSession != "" {
		args = append(args, "--resume", req.ResumeSession)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	grace := r.Grace
	if grace <= 0 {
		grace = defaultGrace
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)

	cmd := exec.CommandContext(runCtx, r.Bin, args...)
	cmd.Dir = r.WorkDir
	// Ask nicely first; WaitDelay forces a kill if the agent ignores SIGTERM.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", r.Bin, err)
	}

	run := newRun(runCtx)
	started := time.Now()
	go func() {
		defer cancel()
		var final *resultEvent
		var sessionID string
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if id, ok := parseSessionID(line); ok {
				sessionID = id
			}
			if text, ok := parseAssistantText(line); ok {
				run.send(Chunk{Text: text})
			}
			if res, ok := parseResult(line); ok {
				final = &res
				if res.SessionID != "" {
					sessionID = res.SessionID
				}
			}
		}
		readErr := scanner.Err()
		waitErr := cmd.Wait()
		run.finish(classify(runCtx, ctx, readErr, waitErr, final, sessionID, stderr.Bytes(), run.Text(), time.Since(started), timeout))
	}()

	return run, nil
}

// classify maps stream reading, process exit, the run deadline, and external
// cancellation to a single Result. A read error wins over the timeout it
// causes; timeout and cancellation win over the wait error they cause.
func classify(runCtx, parent context.Context, readErr, waitErr error, final *resultEvent, sessionID string, stderr []byte, output string, elapsed, timeout time.Duration) Result {
	res := Result{
		Output:    output,
		SessionID: sessionID,
		ExitCode:  exitCode(waitErr),
		Duration:  elapsed,
	}
	if final != nil {
		res.NumTurns = final.NumTurns
	}

	switch {
	case readErr != nil:
		// An aborted scan (e.g. an oversized line) stalls the process on a
		// full pipe until the deadline kills it; report the root cause, not
		// the timeout it triggers.
		res.Outcome = OutcomeFailure
		res.Reason = fmt.Sprintf("read agent output: %v", readErr)

	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		res.Outcome = OutcomeTimedOut
		res.Reason = fmt.Sprintf("run exceeded the %s deadline", timeout)

	case parent.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Reason = "run cancelled"

	case waitErr != nil:
		res.Outcome = OutcomeFailure
		res.Reason = excerpt(stderr)
		if res.Reason == "" {
			res.Reason = waitErr.Error()
		}

	case final != nil && final.IsError:
		res.Outcome = OutcomeFailure
		if final.Result != "" {
			res.Reason = final.Result
		} else {
			res.Reason = "agent reported an error"
		}

	default:
		res.Outcome = OutcomeSuccess
		if final != nil && final.Result != "" {
			res.Output = final.Result
		}
		if res.Output == "" {
			res.Output = "Done, no output."
		}
	}
	return res
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func excerpt(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > maxStderrExcerpt {
		s = s[:maxStderrExcerpt] + "…"
	}
	return s
}
