// Package parser extracts the structured message embedded in an agent's
// free-text response.
//
// Agents annotate their prose with bracketed tags:
//
//	[AGENT:pesquisa][STATUS:processing]
//	Investigating the market...
//	[TASKS]
//	- [x] collect sources
//	- [~] summarize
//	- [ ] list competitors
//	[/TASKS]
//	[OUTPUT:pesquisa.md]
//	# Research
//	...
//	[/OUTPUT]
//	[HANDOFF:persona]ready[/HANDOFF]
//
// Parse never fails. A response without the AGENT/STATUS header degrades to
// a fallback message (agent "unknown", status "idle") carrying the trimmed
// raw text. When a block type appears more than once, the first complete
// block wins and later ones remain part of the message text. Tags that sit
// inside a matched block are treated as that block's content.
package parser

import (
	"strings"
	"unicode/utf8"
)

type tagKind int

const (
	tagAgent tagKind = iota
	tagStatus
	tagTasks
	tagTasksEnd
	tagOutput
	tagOutputEnd
	tagHandoff
	tagHandoffEnd
)

// closers maps each block opener to the tag that ends it.
var closers = map[tagKind]tagKind{
	tagTasks:   tagTasksEnd,
	tagOutput:  tagOutputEnd,
	tagHandoff: tagHandoffEnd,
}

type token struct {
	kind       tagKind
	arg        string
	start, end int
}

type span struct {
	start, end int
}

// Parse converts a raw agent response into a Message.
func Parse(raw string) Message {
	fallback := Message{
		Agent:   UnknownAgent,
		Status:  StatusIdle,
		Message: strings.TrimSpace(raw),
		Tasks:   []Task{},
	}
	if fallback.Message == "" {
		return fallback
	}

	toks := lex(raw)
	msg := Message{Tasks: []Task{}}
	var removed []span
	header := false
	claimed := make(map[tagKind]bool)

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.kind {
		case tagAgent:
			if header || i+1 >= len(toks) {
				continue
			}
			next := toks[i+1]
			if next.kind != tagStatus || strings.Trim(raw[t.end:next.start], " \t") != "" {
				continue
			}
			header = true
			msg.Agent = strings.ToLower(t.arg)
			msg.Status = strings.ToLower(next.arg)
			removed = append(removed, span{t.start, next.end})
			i++
		case tagTasks, tagOutput, tagHandoff:
			if claimed[t.kind] {
				continue
			}
			j := closingIndex(toks, i)
			if j < 0 {
				continue
			}
			claimed[t.kind] = true
			inner := raw[t.end:toks[j].start]
			switch t.kind {
			case tagTasks:
				msg.Tasks = parseTasks(inner)
			case tagOutput:
				msg.Output = &Output{Filename: t.arg, Content: strings.TrimSpace(inner)}
			case tagHandoff:
				msg.Handoff = strings.ToLower(t.arg)
			}
			removed = append(removed, span{t.start, toks[j].end})
			i = j
		}
	}

	if !header {
		return fallback
	}
	msg.Message = strings.TrimSpace(cut(raw, removed))
	return msg
}

// closingIndex returns the index of the first closer for toks[i], or -1.
func closingIndex(toks []token, i int) int {
	want := closers[toks[i].kind]
	for j := i + 1; j < len(toks); j++ {
		if toks[j].kind == want {
			return j
		}
	}
	return -1
}

// cut returns raw without the given ascending, non-overlapping spans.
func cut(raw string, spans []span) string {
	var b strings.Builder
	b.Grow(len(raw))
	pos := 0
	for _, s := range spans {
		b.WriteString(raw[pos:s.start])
		pos = s.end
	}
	b.WriteString(raw[pos:])
	return b.String()
}

// parseTasks reads "- [m] text" lines. x marks completed, ~ in progress and
// anything else, a blank or an upper-case X included, pending. Lines without text are ignored.
func parseTasks(block string) []Task {
	tasks := []Task{}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		rest := strings.TrimLeft(line[1:], " \t")
		if !strings.HasPrefix(rest, "[") {
			continue
		}
		marker, size := utf8.DecodeRuneInString(rest[1:])
		if size == 0 || !strings.HasPrefix(rest[1+size:], "]") {
			continue
		}
		text := strings.TrimSpace(rest[2+size:])
		if text == "" {
			continue
		}
		status := TaskPending
		switch marker {
		case 'x':
			status = TaskCompleted
		case '~':
			status = TaskInProgress
		}
		tasks = append(tasks, Task{Text: text, Status: status})
	}
	return tasks
}

// lex finds every protocol tag in raw. Anything else in brackets, checklist
// markers included, is ordinary text.
func lex(raw string) []token {
	var toks []token
	for i := 0; i < len(raw); i++ {
		if raw[i] != '[' {
			continue
		}
		if t, ok := readTag(raw, i); ok {
			toks = append(toks, t)
			i = t.end - 1
		}
	}
	return toks
}

// readTag tries to read "[NAME]", "[/NAME]" or "[NAME:arg]" at start.
func readTag(raw string, start int) (token, bool) {
	end := strings.IndexByte(raw[start:], ']')
	if end < 0 {
		return token{}, false
	}
	end += start
	body := raw[start+1 : end]
	if strings.ContainsAny(body, "[\n") {
		return token{}, false
	}

	closing := strings.HasPrefix(body, "/")
	if closing {
		body = body[1:]
	}
	name, arg, hasArg := strings.Cut(body, ":")
	name = strings.ToUpper(name)
	arg = strings.TrimSpace(arg)

	t := token{arg: arg, start: start, end: end + 1}
	if closing {
		if hasArg {
			return token{}, false
		}
		switch name {
		case "TASKS":
			t.kind = tagTasksEnd
		case "OUTPUT":
			t.kind = tagOutputEnd
		case "HANDOFF":
			t.kind = tagHandoffEnd
		default:
			return token{}, false
		}
		return t, true
	}

	switch name {
	case "TASKS":
		if hasArg {
			return token{}, false
		}
		t.kind = tagTasks
		return t, true
	case "AGENT":
		t.kind = tagAgent
	case "STATUS":
		t.kind = tagStatus
	case "OUTPUT":
		t.kind = tagOutput
	case "HANDOFF":
		t.kind = tagHandoff
	default:
		return token{}, false
	}
	if arg == "" {
		return token{}, false
	}
	return t, true
}
