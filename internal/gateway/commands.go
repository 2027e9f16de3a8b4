package gateway

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Command is a control message such as "/reject shorter headline".
type Command struct {
	Name string
	Args string
}

const HelpText = `Commands:
/approve [note]        approve the pending artifact
/reject <feedback>     reject it; the step runs again with your feedback
/theme <id>            choose the landing page theme
/rollback [step]       go back to a step (default: the previous one)
/approvals agent=on|off ...  change which agents need approval
/status                show the pipeline state`

// ParseCommand reads a "/name args" or "!name args" message. A bot mention
// suffix ("/status@mybot") is ignored. It reports false for anything else.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '/' && text[0] != '!') {
		return Command{}, false
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Command{}, false
	}
	return Command{Name: name, Args: strings.TrimSpace(args)}, true
}

// Execute applies cmd to the pipeline and returns the reply text.
func Execute(ctx context.Context, ctrl Controller, cmd Command) string {
	switch cmd.Name {
	case "approve", "ok":
		if ctrl.Approve(true, cmd.Args) {
			return "Approved."
		}
		return "Nothing is waiting for approval."
	case "reject":
		if ctrl.Approve(false, cmd.Args) {
			return "Rejected. The step will run again."
		}
		return "Nothing is waiting for approval."
	case "theme":
		if cmd.Args == "" {
			return "Usage: /theme <id>"
		}
		if ctrl.SelectTheme(cmd.Args) {
			return fmt.Sprintf("Theme set to %s.", cmd.Args)
		}
		return "No theme selection is pending."
	case "rollback":
		target := -1
		if cmd.Args != "" {
			n, err := strconv.Atoi(cmd.Args)
			if err != nil || n < 1 {
				return "Usage: /rollback [step number]"
			}
			target = n - 1
		}
		if err := ctrl.Rollback(ctx, target); err != nil {
			return fmt.Sprintf("Rollback failed: %v", err)
		}
		return "Rolling back."
	case "approvals":
		m, err := parseApprovals(cmd.Args)
		if err != nil {
			return err.Error()
		}
		ctrl.UpdateApprovalConfig(m)
		return "Approval settings updated: " + formatApprovals(m)
	case "status":
		return FormatState(ctrl.State())
	case "help", "start":
		return HelpText
	}
	return fmt.Sprintf("Unknown command /%s.\n\n%s", cmd.Name, HelpText)
}

// parseApprovals reads "copy=on landing=off".
func parseApprovals(args string) (map[string]bool, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return nil, fmt.Errorf("Usage: /approvals agent=on|off ...")
	}
	m := make(map[string]bool, len(fields))
	for _, f := range fields {
		agent, value, ok := strings.Cut(f, "=")
		if !ok || agent == "" {
			return nil, fmt.Errorf("Invalid setting %q, expected agent=on|off", f)
		}
		switch strings.ToLower(value) {
		case "on", "true", "yes", "1":
			m[strings.ToLower(agent)] = true
		case "off", "false", "no", "0":
			m[strings.ToLower(agent)] = false
		default:
			return nil, fmt.Errorf("Invalid value %q for %s, expected on or off", value, agent)
		}
	}
	return m, nil
}

func formatApprovals(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		state := "off"
		if m[k] {
			state = "on"
		}
		parts[i] = k + "=" + state
	}
	return strings.Join(parts, " ")
}
