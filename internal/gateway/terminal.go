package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rahul/esteira/internal/pipeline"
	"github.com/rahul/esteira/internal/preview"
)

// Terminal prints pipeline progress to a console and, through Interact,
// lets the operator answer approvals and theme selections from it.
type Terminal struct {
	Out io.Writer
	// Stream echoes the agent output as it arrives.
	Stream bool
}

func NewTerminal(out io.Writer, stream bool) *Terminal {
	return &Terminal{Out: out, Stream: stream}
}

func (t *Terminal) Publish(ev pipeline.Event) {
	switch ev.Name {
	case pipeline.EventStream:
		if t.Stream {
			fmt.Fprint(t.Out, ev.Chunk)
		}
		return
	case pipeline.EventApprovalRequired:
		fmt.Fprintf(t.Out, "\n✋ [%d/%d] %s produced %s\n\n%s\n\n[a]pprove  [r]eject <feedback>  [b]ack  > ",
			ev.Step, ev.TotalSteps, ev.Agent, ev.ArtifactName, preview.Excerpt(ev.ArtifactContent, excerptRunes))
		return
	case pipeline.EventSelectionRequired:
		fmt.Fprint(t.Out, "\n🎨 Theme for the landing page > ")
		return
	}
	if text, ok := FormatEvent(ev); ok {
		fmt.Fprintln(t.Out, text)
	}
}

// Interact reads operator input from r until ctx is done or r is exhausted.
// Lines starting with "/" are chat commands. Other lines answer whatever
// gate the pipeline is parked at.
func (t *Terminal) Interact(ctx context.Context, ctrl Controller, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			if reply := t.answer(ctx, ctrl, strings.TrimSpace(line)); reply != "" {
				fmt.Fprintln(t.Out, reply)
			}
		}
	}
}

func (t *Terminal) answer(ctx context.Context, ctrl Controller, line string) string {
	if cmd, ok := ParseCommand(line); ok {
		return Execute(ctx, ctrl, cmd)
	}
	switch {
	case ctrl.AwaitingApproval():
		word, rest, _ := strings.Cut(line, " ")
		switch strings.ToLower(word) {
		case "", "a", "approve", "y", "yes":
			return Execute(ctx, ctrl, Command{Name: "approve", Args: rest})
		case "r", "reject", "n", "no":
			return Execute(ctx, ctrl, Command{Name: "reject", Args: rest})
		case "b", "back":
			return Execute(ctx, ctrl, Command{Name: "rollback"})
		}
		return "Answer a, r <feedback> or b."
	case ctrl.AwaitingTheme():
		if line == "" {
			return ""
		}
		return Execute(ctx, ctrl, Command{Name: "theme", Args: line})
	case line == "":
		return ""
	}
	return "Nothing is waiting for input. Type /help for commands."
}
