package governance

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request describes an artifact an agent asked to store.
type Request struct {
	Agent     string
	SessionID string
	Filename  string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates agent-declared artifact names against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies filenames matching any of its patterns or using
// an extension outside its allow list.
type DefaultPolicyEngine struct {
	DeniedAgents      map[string]bool
	DeniedRegex       []*regexp.Regexp
	AllowedExtensions map[string]bool
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedAgents:      make(map[string]bool),
		DeniedRegex:       make([]*regexp.Regexp, 0),
		AllowedExtensions: make(map[string]bool),
	}
}

// NewArtifactPolicy returns the engine used for pipeline artifacts: names
// must stay inside the session directory and be markdown, text, HTML or JSON.
func NewArtifactPolicy() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	for _, p := range []string{`\.\.`, `^[/~]`, `\\`, `^[A-Za-z]:`, `[\x00-\x1f]`, `^pipeline_state\.json$`} {
		// Patterns are constant.
		_ = e.DenyFilenames(p)
	}
	e.AllowExtensions(".md", ".txt", ".html", ".json")
	return e
}

// DenyAgent refuses every named output from agent; its artifacts keep the
// default name.
func (e *DefaultPolicyEngine) DenyAgent(name string) {
	e.DeniedAgents[strings.ToLower(name)] = true
}

func (e *DefaultPolicyEngine) DenyFilenames(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

// AllowExtensions restricts filenames to the given extensions. With none
// registered every extension is allowed.
func (e *DefaultPolicyEngine) AllowExtensions(exts ...string) {
	for _, ext := range exts {
		e.AllowedExtensions[strings.ToLower(ext)] = true
	}
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedAgents[strings.ToLower(req.Agent)] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Agent '%s' may not name its artifacts", req.Agent),
		}, nil
	}

	if strings.TrimSpace(req.Filename) == "" {
		return Result{Effect: EffectDeny, Reason: "Empty filename"}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Filename) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Filename matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	if len(e.AllowedExtensions) > 0 && !e.AllowedExtensions[strings.ToLower(filepath.Ext(req.Filename))] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Extension '%s' is not allowed", filepath.Ext(req.Filename)),
		}, nil
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
