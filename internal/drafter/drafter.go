// Package drafter asks a language-model command line tool for a reply draft
// and turns its free-text answer into a structured result.
package drafter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/web-agent/web-agent/internal/adapter"
)

type Input struct {
	ThreadID string
	Messages []adapter.Message
}

type Reply struct {
	Draft      string
	Tone       string
	Confidence string // high, medium or low
	Questions  []string
	ShouldSend bool
}

// SubprocessError reports a non-zero exit of the drafting command.
type SubprocessError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// ParseError means the command answered but without a usable reply object.
// The draft needs human review; RawOutput is kept for audit.
type ParseError struct {
	RawOutput string
	Reason    string
}

func (e *ParseError) Error() string { return "invalid JSON response: " + e.Reason }

type Options struct {
	Command      string
	Args         []string
	TemplatePath string // empty for the built-in prompt
	Timeout      time.Duration
	Runner       Runner
	Logger       *slog.Logger
}

type Client struct {
	command  string
	args     []string
	template string
	timeout  time.Duration
	runner   Runner
	logger   *slog.Logger
}

func New(opts Options) (*Client, error) {
	tmpl, err := LoadTemplate(opts.TemplatePath)
	if err != nil {
		return nil, err
	}
	c := &Client{
		command:  opts.Command,
		args:     opts.Args,
		template: tmpl,
		timeout:  opts.Timeout,
		runner:   opts.Runner,
		logger:   opts.Logger,
	}
	if c.command == "" {
		c.command, c.args = "claude", []string{"-p"}
	}
	if c.runner == nil {
		c.runner = ExecRunner{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// DraftReply renders the prompt for in, runs the command with it on stdin
// and parses the answer. Failures are *SubprocessError, *ParseError, or an
// error starting the command.
func (c *Client) DraftReply(ctx context.Context, in Input) (*Reply, error) {
	prompt := RenderPrompt(c.template, in.Messages)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, code, err := c.runner.Run(ctx, c.command, c.args, prompt)
	c.logger.Debug("drafting command finished", "thread", in.ThreadID, "exit_code", code, "elapsed", time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s did not finish: %w", c.command, ctx.Err())
		}
		return nil, fmt.Errorf("failed to run %s: %w", c.command, err)
	}
	if code != 0 {
		return nil, &SubprocessError{Command: c.command, ExitCode: code, Stderr: stderr}
	}

	reply, err := ParseResponse(stdout)
	if err != nil {
		c.logger.Warn("failed to parse drafting response", "thread", in.ThreadID, "error", err)
		return nil, err
	}
	return reply, nil
}
