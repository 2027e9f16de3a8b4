package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// maxStderr caps how much standard error is kept for an ExitError.
const maxStderr = 16 * 1024

// Client invokes an external agent CLI, one subprocess per attempt.
//
// The command line is Binary, Args, SystemPromptFlag with the system prompt,
// then the input as the last positional argument. Nothing is written to the
// process's standard input.
type Client struct {
	Binary           string
	Args             []string
	SystemPromptFlag string
	PingArgs         []string
	Env              []string // nil inherits the parent environment
	Dir              string
	Backoff          time.Duration
	PingTimeout      time.Duration

	live liveness
}

// NewClient returns a client for binary with non-interactive base args.
func NewClient(binary string, args ...string) *Client {
	return &Client{
		Binary:           binary,
		Args:             args,
		SystemPromptFlag: "--system-prompt",
		PingArgs:         []string{"--version"},
		Backoff:          DefaultBackoff,
		PingTimeout:      DefaultPingTimeout,
	}
}

// Invoke runs the agent on input and streams its output. The stream is
// consumed by a single caller; cancelling ctx kills the running attempt and
// ends the stream without retrying.
func (c *Client) Invoke(ctx context.Context, input, systemPrompt string, opts Options) <-chan StreamEvent {
	args := append([]string{}, c.Args...)
	if systemPrompt != "" && c.SystemPromptFlag != "" {
		args = append(args, c.SystemPromptFlag, systemPrompt)
	}
	args = append(args, input)

	return stream(ctx, c.Binary, opts, c.Backoff, &c.live, func(ctx context.Context, emit func(string) bool) (string, error) {
		return c.run(ctx, args, emit)
	})
}

// Status reports whether the last invocation succeeded and when the binary
// last answered.
func (c *Client) Status() Status {
	return c.live.status()
}

// Ping checks that the binary can be launched. It only refreshes LastPing and
// leaves Connected to the invocations.
func (c *Client) Ping(ctx context.Context) error {
	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Binary, c.PingArgs...)
	configureProcess(cmd)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s: %v (%s)", ErrUnavailable, c.Binary, err, strings.TrimSpace(string(out)))
	}
	c.live.pinged()
	return nil
}

func (c *Client) run(ctx context.Context, args []string, emit func(string) bool) (string, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	configureProcess(cmd)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}

	stdout := &chunkWriter{emit: emit}
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, c.Binary, err)
	}
	err := cmd.Wait()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", &ExitError{Code: ee.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		if errors.Is(err, errStreamClosed) {
			return "", err
		}
		return "", fmt.Errorf("agent: wait: %w", err)
	}
	if !stdout.flush() {
		return "", errStreamClosed
	}
	return stdout.full.String(), nil
}

// chunkWriter forwards stdout writes as chunks, holding back a trailing
// incomplete UTF-8 sequence until the rest of it arrives.
type chunkWriter struct {
	emit    func(string) bool
	pending []byte
	full    strings.Builder
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	n := completePrefix(w.pending)
	if n == 0 {
		return len(p), nil
	}
	chunk := string(w.pending[:n])
	w.pending = append(w.pending[:0], w.pending[n:]...)
	w.full.WriteString(chunk)
	if !w.emit(chunk) {
		return 0, errStreamClosed
	}
	return len(p), nil
}

// flush emits whatever is still held back, valid or not.
func (w *chunkWriter) flush() bool {
	if len(w.pending) == 0 {
		return true
	}
	chunk := string(w.pending)
	w.pending = nil
	w.full.WriteString(chunk)
	return w.emit(chunk)
}

// completePrefix returns the length of b without a trailing partial rune.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}

type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
