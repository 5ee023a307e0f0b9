package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Config defines the agent CLI an AgentExecutor invokes.
type Config struct {
	Command string   // CLI binary name (e.g., "claude")
	Args    []string // Default args prepended to every invocation
	Model   string   // Optional model override
}

// AgentExecutor runs the agent as a subprocess and translates its
// JSON-lines output into the Event stream. One invocation per Start call.
type AgentExecutor struct {
	cfg     Config
	procMgr *ProcessManager
}

// NewAgentExecutor creates an executor for the given agent CLI.
// The ProcessManager is optional; if nil, subprocesses aren't tracked.
func NewAgentExecutor(cfg Config, procMgr *ProcessManager) *AgentExecutor {
	return &AgentExecutor{cfg: cfg, procMgr: procMgr}
}

// streamLine is one JSON line emitted by the agent CLI.
type streamLine struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Start launches the agent process. The returned handle streams events in
// arrival order; the channel closes after the final EventComplete.
func (e *AgentExecutor) Start(ctx context.Context, req Request) (Handle, error) {
	args := e.buildArgs(req)
	cmd := newCommand(ctx, e.cfg.Command, args...)
	cmd.Dir = req.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", e.cfg.Command, err)
	}
	if e.procMgr != nil {
		e.procMgr.Track(cmd)
	}

	h := &agentHandle{
		cmd:    cmd,
		events: make(chan Event, 64),
	}
	go h.pump(stdout, stderr, func() {
		if e.procMgr != nil {
			e.procMgr.Untrack(cmd)
		}
	})
	return h, nil
}

// buildArgs constructs the CLI arguments for one invocation.
func (e *AgentExecutor) buildArgs(req Request) []string {
	args := append([]string(nil), e.cfg.Args...)
	args = append(args, "-p", buildPrompt(req), "--output-format", "stream-json")
	if req.Phase == PhasePlan {
		args = append(args, "--permission-mode", "plan")
	}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	return args
}

// buildPrompt assembles the agent prompt from the task description, the
// approved plan, and the accumulated reviewer feedback.
func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.Description)
	if req.Phase == PhasePlan {
		b.WriteString("\n\nProduce a plan for this task. Do not modify any files.")
		if req.PlanningMode != "" {
			fmt.Fprintf(&b, " Planning depth: %s.", req.PlanningMode)
		}
	}
	if req.Plan != "" && req.Phase == PhaseExecute {
		b.WriteString("\n\nFollow this approved plan:\n")
		b.WriteString(req.Plan)
	}
	for _, fb := range req.Feedback {
		b.WriteString("\n\nReviewer feedback:\n")
		b.WriteString(fb)
	}
	return b.String()
}

// agentHandle is a running agent subprocess.
type agentHandle struct {
	cmd      *exec.Cmd
	events   chan Event
	stopOnce sync.Once
	stopErr  error
}

// Events returns the event stream.
func (h *agentHandle) Events() <-chan Event {
	return h.events
}

// PID returns the subprocess pid.
func (h *agentHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Stop kills the process group. Idempotent; best effort on the process
// side -- the pump still runs to completion and closes the stream.
func (h *agentHandle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopErr = killProcessGroup(h.cmd)
	})
	return h.stopErr
}

// pump reads stdout and stderr concurrently, emits events in stdout
// arrival order, then waits for the process and emits the terminal
// EventComplete. Draining both pipes before cmd.Wait prevents deadlocks
// when output exceeds pipe buffer capacity.
func (h *agentHandle) pump(stdout, stderr io.Reader, done func()) {
	defer close(h.events)
	defer done()

	var wg sync.WaitGroup
	var stderrBuf bytes.Buffer
	wg.Add(1)
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderr)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.emitLine(scanner.Text())
	}

	wg.Wait()
	waitErr := h.cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		msg := strings.TrimSpace(stderrBuf.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		if IsRateLimitMessage(msg) {
			h.events <- Event{Type: EventRateLimitHit, Text: msg, ResetAt: ParseResetTime(msg)}
		} else {
			h.events <- Event{Type: EventError, Text: msg}
		}
	}
	h.events <- Event{Type: EventComplete, ExitCode: exitCode}
}

// emitLine translates one stdout line into an event. Lines that aren't
// valid JSON are forwarded as plain text output.
func (h *agentHandle) emitLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	var sl streamLine
	if err := json.Unmarshal([]byte(line), &sl); err != nil {
		h.events <- Event{Type: EventTextDelta, Text: line}
		return
	}

	switch sl.Type {
	case "text":
		h.events <- Event{Type: EventTextDelta, Text: sl.Text}
	case "tool_use":
		h.events <- Event{Type: EventToolUse, Tool: sl.Name}
	case "plan":
		h.events <- Event{Type: EventPlanGenerated, Plan: sl.Content}
	case "error":
		if IsRateLimitMessage(sl.Message) {
			h.events <- Event{Type: EventRateLimitHit, Text: sl.Message, ResetAt: ParseResetTime(sl.Message)}
			return
		}
		h.events <- Event{Type: EventError, Text: sl.Message}
	default:
		// Unknown event types are forwarded as text so nothing is lost.
		h.events <- Event{Type: EventTextDelta, Text: line}
	}
}
