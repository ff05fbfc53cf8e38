package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript drops a fake agent into a temp dir and returns its path. The
// scripts ignore the CLI flags the runner passes; only stdout/stderr/exit
// behavior matters here.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures")
	}
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// drain consumes the chunk stream and returns the terminal result.
func drain(run *Run) ([]Chunk, Result) {
	var chunks []Chunk
	for {
		c, ok := run.Next()
		if !ok {
			break
		}
		chunks = append(chunks, c)
	}
	return chunks, run.Result()
}

func TestRunnerSuccess(t *testing.T) {
	bin := writeScript(t, `
echo '{"type":"system","subtype":"init","session_id":"sess-abc"}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
echo '{"type":"result","subtype":"success","is_error":false,"result":"all done","num_turns":3,"session_id":"sess-abc"}'
exit 0
`)
	r := &Runner{Bin: bin, Timeout: 5 * time.Second}

	run, err := r.Start(context.Background(), Request{Prompt: "do the thing"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	chunks, res := drain(run)

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s (%s), want success", res.Outcome, res.Reason)
	}
	if res.Output != "all done" {
		t.Errorf("output = %q, want %q", res.Output, "all done")
	}
	if res.SessionID != "sess-abc" {
		t.Errorf("session id = %q, want sess-abc", res.SessionID)
	}
	if res.NumTurns != 3 {
		t.Errorf("num turns = %d, want 3", res.NumTurns)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if len(chunks) != 1 || chunks[0].Text != "working" {
		t.Errorf("chunks = %v, want one %q chunk", chunks, "working")
	}
}

func TestRunnerSuccessWithoutResultText(t *testing.T) {
	bin := writeScript(t, `
echo '{"type":"result","subtype":"success","is_error":false,"result":""}'
exit 0
`)
	r := &Runner{Bin: bin, Timeout: 5 * time.Second}

	run, err := r.Start(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, res := drain(run)

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", res.Outcome)
	}
	if res.Output != "Done, no output." {
		t.Errorf("output = %q, want placeholder", res.Output)
	}
}

func TestRunnerNonzeroExit(t *testing.T) {
	bin := writeScript(t, `
echo "credential error: token expired" >&2
exit 3
`)
	r := &Runner{Bin: bin, Timeout: 5 * time.Second}

	run, err := r.Start(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, res := drain(run)

	if res.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %s, want failure", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Reason, "token expired") {
		t.Errorf("reason = %q, want stderr excerpt", res.Reason)
	}
}

func TestRunnerAgentReportedError(t *testing.T) {
	bin := writeScript(t, `
echo '{"type":"result","subtype":"error_during_execution","is_error":true,"result":"tool call failed"}'
exit 0
`)
	r := &Runner{Bin: bin, Timeout: 5 * time.Second}

	run, err := r.Start(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, res := drain(run)

	if res.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %s, want failure", res.Outcome)
	}
	if res.Reason != "tool call failed" {
		t.Errorf("reason = %q, want agent's message", res.Reason)
	}
}

func TestRunnerTimeout(t *testing.T) {
	bin := writeScript(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial work"}]}}'
sleep 30
`)
	r := &Runner{Bin: bin, Timeout: 300 * time.Millisecond, Grace: 200 * time.Millisecond}

	start := time.Now()
	run, err := r.Start(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, res := drain(run)
	elapsed := time.Since(start)

	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s (%s), want timed_out", res.Outcome, res.Reason)
	}
	// Deadline plus grace plus slack, nowhere near the 30s sleep.
	if elapsed > 3*time.Second {
		t.Errorf("run took %s, deadline enforcement failed", elapsed)
	}
	if !strings.Contains(res.Output, "partial work") {
		t.Errorf("output = %q, partial output lost", res.Output)
	}
}

func TestRunnerTimeoutKillsStubbornProcess(t *testing.T) {
	bin := writeScript(t, `
trap '' TERM
sleep 30
`)
	r := &Runner{Bin: bin, Timeout: 200 * time.Millisecond, Grace: 200 * time.Millisecond}

	start := time.Now()
	run, err := r.Start(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, res := drain(run)

	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s, want timed_out", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("run took %s, forced kill did not land", elapsed)
	}
}

func TestRunnerOversizedLine(t *testing.T) {
	// A single line past the scanner's 1MB buffer aborts the read; the run
	// must report the read error, not the timeout the stalled pipe causes.
	bin := writeScript(t, `
head -c 2097152 /dev/zero | tr '\0' 'x'
echo
sleep 30
`)
	r := &Runner{Bin: bin, Timeout: 500 * time.Millisecond, Grace: 200 * time.Millisecond}

	start := time.Now()
	run, err := r.Start(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, res := drain(run)

	if res.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %s (%s), want failure", res.Outcome, res.Reason)
	}
	if !strings.Contains(res.Reason, "read agent output") {
		t.Errorf("reason = %q, want the read error surfaced", res.Reason)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("run took %s, stalled process not reaped", elapsed)
	}
}

func TestRunnerCancelled(t *testing.T) {
	bin := writeScript(t, `sleep 30`)
	r := &Runner{Bin: bin, Timeout: time.Minute, Grace: 200 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	run, err := r.Start(ctx, Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.AfterFunc(100*time.Millisecond, cancel)
	_, res := drain(run)

	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %s, want cancelled", res.Outcome)
	}
}

func TestRunnerSpawnFailure(t *testing.T) {
	r := &Runner{Bin: filepath.Join(t.TempDir(), "does-not-exist")}
	if _, err := r.Start(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("Start succeeded for a missing binary")
	}
}

func TestRunnerSkipsMalformedLines(t *testing.T) {
	bin := writeScript(t, `
echo 'not json at all'
echo '{"type":"mystery_event","payload":42}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"still here"}]}}'
echo '{"type":"result","subtype":"success","is_error":false,"result":"ok"}'
`)
	r := &Runner{Bin: bin, Timeout: 5 * time.Second}

	run, err := r.Start(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	chunks, res := drain(run)

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s (%s), want success", res.Outcome, res.Reason)
	}
	if len(chunks) != 1 || chunks[0].Text != "still here" {
		t.Errorf("chunks = %v, want one chunk past the noise", chunks)
	}
}

func TestRunnerResumeFlag(t *testing.T) {
	// The fake prints its own argv so the test can inspect the built command.
	bin := writeScript(t, `
printf '{"type":"result","subtype":"success","is_error":false,"result":"%s"}\n' "$*"
`)
	r := &Runner{Bin: bin, Timeout: 5 * time.Second, Model: "sonnet", MaxTurns: 7}

	run, err := r.Start(context.Background(), Request{Prompt: "hi", ResumeSession: "sess-9"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, res := drain(run)

	for _, want := range []string{"--resume sess-9", "--model sonnet", "--max-turns 7", "-p hi"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("argv %q missing %q", res.Output, want)
		}
	}
}

func TestRunText(t *testing.T) {
	run := newRun(context.Background())
	run.send(Chunk{Text: "hello "})
	run.send(Chunk{Text: "world"})
	if got := run.Text(); got != "hello world" {
		t.Errorf("Text() = %q, want %q", got, "hello world")
	}
}
