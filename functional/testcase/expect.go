package testcase

import (
	"fmt"
	"slices"
	"strings"
	"testing"
)

// Assertion checks one property of a finished run
type Assertion interface {
	Assert(t *testing.T, ctx *RunContext)
}

// RunContext is what a run leaves behind for assertions
type RunContext struct {
	Status int
	Body   []byte
	Builds []BuildRecord

	// ExtensionTargets are the agent tree paths any extension may write
	ExtensionTargets []string
	// TreeAfter lists the agent tree files after the request completed
	TreeAfter []string
}

// BuildRecord is one invocation of "go build"
type BuildRecord struct {
	Args []string
	// Files lists the agent tree files present while compiling
	Files []string
}

// LDFlags returns the value passed to -ldflags
func (b BuildRecord) LDFlags() string {
	for i, a := range b.Args {
		if a == "-ldflags" && i+1 < len(b.Args) {
			return b.Args[i+1]
		}
	}
	return ""
}

func (ctx *RunContext) onlyBuild(t *testing.T) (BuildRecord, bool) {
	t.Helper()
	if len(ctx.Builds) != 1 {
		t.Errorf("expected exactly one build, got %d", len(ctx.Builds))
		return BuildRecord{}, false
	}
	return ctx.Builds[0], true
}

type StatusAssertion struct {
	Expected int
}

func (a *StatusAssertion) Assert(t *testing.T, ctx *RunContext) {
	t.Helper()
	if ctx.Status != a.Expected {
		t.Errorf("expected status %d, got %d (body: %s)", a.Expected, ctx.Status, ctx.Body)
	}
}

type BuildCountAssertion struct {
	Expected int
}

func (a *BuildCountAssertion) Assert(t *testing.T, ctx *RunContext) {
	t.Helper()
	if len(ctx.Builds) != a.Expected {
		t.Errorf("expected %d builds, got %d", a.Expected, len(ctx.Builds))
	}
}

type LDFlagAssertion struct {
	Variable string
	Value    string
	AnyValue bool
	Absent   bool
}

func (a *LDFlagAssertion) Assert(t *testing.T, ctx *RunContext) {
	t.Helper()
	b, ok := ctx.onlyBuild(t)
	if !ok {
		return
	}

	ldflags := b.LDFlags()
	prefix := fmt.Sprintf("-X %s=", a.Variable)
	found := strings.Contains(ldflags, prefix)

	switch {
	case a.Absent:
		if found {
			t.Errorf("expected %s not to be linked, ldflags: %s", a.Variable, ldflags)
		}
	case a.AnyValue:
		if !found {
			t.Errorf("expected %s to be linked, ldflags: %s", a.Variable, ldflags)
		}
	default:
		if !strings.Contains(ldflags, prefix+a.Value) {
			t.Errorf("expected %s%s in ldflags: %s", prefix, a.Value, ldflags)
		}
	}
}

type BuildArgAssertion struct {
	Arg string
}

func (a *BuildArgAssertion) Assert(t *testing.T, ctx *RunContext) {
	t.Helper()
	b, ok := ctx.onlyBuild(t)
	if ok && !slices.Contains(b.Args, a.Arg) {
		t.Errorf("expected build arg %q, got %v", a.Arg, b.Args)
	}
}

type BuildFileAssertion struct {
	Target  string
	Present bool
}

func (a *BuildFileAssertion) Assert(t *testing.T, ctx *RunContext) {
	t.Helper()
	b, ok := ctx.onlyBuild(t)
	if !ok {
		return
	}
	if slices.Contains(b.Files, a.Target) != a.Present {
		t.Errorf("expected %s present=%t during build, tree was %v", a.Target, a.Present, b.Files)
	}
}

type CleanWorkspaceAssertion struct{}

func (a *CleanWorkspaceAssertion) Assert(t *testing.T, ctx *RunContext) {
	t.Helper()
	for _, target := range ctx.ExtensionTargets {
		if slices.Contains(ctx.TreeAfter, target) {
			t.Errorf("extension file %s was left in the agent tree", target)
		}
	}
}
