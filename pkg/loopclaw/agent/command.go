// Package agent – command.go implements Executor by shelling out to a
// configured agent CLI (e.g. a headless coding agent). The prompt is passed
// on stdin, the workspace becomes the working directory, and stdout is
// streamed line by line.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// CommandConfig configures the subprocess executor.
type CommandConfig struct {
	// Command is the agent binary and its fixed arguments,
	// e.g. ["claude", "-p", "--output-format", "text"].
	Command []string `yaml:"command"`

	// Env is extra environment for the agent process, KEY=VALUE.
	Env []string `yaml:"env"`
}

// CommandExecutor runs the agent as a subprocess per invocation.
type CommandExecutor struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommandExecutor creates a subprocess-backed executor.
func NewCommandExecutor(cfg CommandConfig, logger *slog.Logger) (*CommandExecutor, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("agent command is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandExecutor{cfg: cfg, logger: logger.With("component", "agent")}, nil
}

// Run executes one agent invocation. Cancelling ctx kills the process.
func (e *CommandExecutor) Run(ctx context.Context, req RunRequest) error {
	if req.Workspace == "" {
		return fmt.Errorf("no workspace configured for conversation %s", req.ConversationID)
	}
	if _, err := os.Stat(req.Workspace); err != nil {
		return fmt.Errorf("workspace %q is not accessible: %w", req.Workspace, err)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command[0], e.cfg.Command[1:]...)
	cmd.Dir = req.Workspace
	cmd.Stdin = strings.NewReader(req.Message)
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Env = append(cmd.Env,
		"LOOPCLAW_CONVERSATION_ID="+req.ConversationID,
		"LOOPCLAW_RUN_ID="+req.RunID,
	)
	if req.DisableApprovals {
		cmd.Env = append(cmd.Env, "LOOPCLAW_APPROVALS=disabled")
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.logger.Info("agent run starting",
		"conversation_id", req.ConversationID,
		"run_id", req.RunID,
		"workspace", req.Workspace,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting agent process: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if req.OnOutput != nil {
			req.OnOutput(scanner.Text())
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("agent run aborted: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("agent run failed: %s", tail(msg, 500))
	}

	e.logger.Info("agent run completed",
		"conversation_id", req.ConversationID,
		"run_id", req.RunID,
	)
	return nil
}

// tail keeps the last max bytes of s — the end of stderr carries the actual
// failure on most CLIs.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}
