// Package testcase provides a fluent API for defining functional test cases
// that exercise the sandbuild binary against a scripted go toolchain.
package testcase

import (
	"net/http"
	"testing"

	"github.com/sandbuild/sandbuild/pkg/peerinfo"
)

// TestCase represents a complete functional test scenario
type TestCase struct {
	t    *testing.T
	name string

	variants   map[string]string
	extensions []*ExtensionBuilder
	peers      []peerinfo.Peer
	protocols  map[string]string
	noGo       bool

	headers http.Header

	assertions []Assertion
}

// New creates a new test case with the given name
func New(t *testing.T, name string) *TestCase {
	return &TestCase{
		t:         t,
		name:      name,
		variants:  make(map[string]string),
		protocols: make(map[string]string),
		headers:   make(http.Header),
	}
}

// WithVariant adds conf/<name>.yml with the given YAML content
func (tc *TestCase) WithVariant(name, yaml string) *TestCase {
	tc.variants[name] = yaml
	return tc
}

// WithExtension adds an extension manifest and its source files
func (tc *TestCase) WithExtension(name string, configure func(*ExtensionBuilder)) *TestCase {
	b := &ExtensionBuilder{name: name, files: make(map[string]string)}
	configure(b)
	tc.extensions = append(tc.extensions, b)
	return tc
}

// WithPeer adds an agent to the peer file
func (tc *TestCase) WithPeer(paw string, trusted bool, receivers map[string][]string) *TestCase {
	tc.peers = append(tc.peers, peerinfo.Peer{Paw: paw, Trusted: trusted, ProxyReceivers: receivers})
	return tc
}

// WithProtocol registers a C2 protocol configuration value
func (tc *TestCase) WithProtocol(name, value string) *TestCase {
	tc.protocols[name] = value
	return tc
}

// WithoutToolchain points the service at a go binary that does not exist
func (tc *TestCase) WithoutToolchain() *TestCase {
	tc.noGo = true
	return tc
}

// WithHeader sets a request header of the build request
func (tc *TestCase) WithHeader(key, value string) *TestCase {
	tc.headers.Set(key, value)
	return tc
}

// Expect adds an assertion to be checked after the test runs
func (tc *TestCase) Expect(a Assertion) *TestCase {
	tc.assertions = append(tc.assertions, a)
	return tc
}

// ExpectStatus asserts the HTTP status of the build request
func (tc *TestCase) ExpectStatus(code int) *TestCase {
	return tc.Expect(&StatusAssertion{Expected: code})
}

// ExpectBuilds asserts how many times the toolchain compiled
func (tc *TestCase) ExpectBuilds(n int) *TestCase {
	return tc.Expect(&BuildCountAssertion{Expected: n})
}

// ExpectLDFlag asserts the build linked variable with value
func (tc *TestCase) ExpectLDFlag(variable, value string) *TestCase {
	return tc.Expect(&LDFlagAssertion{Variable: variable, Value: value})
}

// ExpectLDFlagSet asserts the build linked variable with any value
func (tc *TestCase) ExpectLDFlagSet(variable string) *TestCase {
	return tc.Expect(&LDFlagAssertion{Variable: variable, AnyValue: true})
}

// ExpectNoLDFlag asserts the build did not link variable
func (tc *TestCase) ExpectNoLDFlag(variable string) *TestCase {
	return tc.Expect(&LDFlagAssertion{Variable: variable, Absent: true})
}

// ExpectBuildArg asserts the toolchain received arg
func (tc *TestCase) ExpectBuildArg(arg string) *TestCase {
	return tc.Expect(&BuildArgAssertion{Arg: arg})
}

// ExpectPresentDuringBuild asserts target was in the agent source tree while
// compiling
func (tc *TestCase) ExpectPresentDuringBuild(target string) *TestCase {
	return tc.Expect(&BuildFileAssertion{Target: target, Present: true})
}

// ExpectAbsentDuringBuild asserts target was not in the agent source tree
// while compiling
func (tc *TestCase) ExpectAbsentDuringBuild(target string) *TestCase {
	return tc.Expect(&BuildFileAssertion{Target: target})
}

// ExpectCleanWorkspace asserts no extension file is left in the agent source
// tree after the request
func (tc *TestCase) ExpectCleanWorkspace() *TestCase {
	return tc.Expect(&CleanWorkspaceAssertion{})
}

// Run executes the test case
func (tc *TestCase) Run() {
	tc.t.Helper()
	(&Runner{tc: tc, t: tc.t}).Run()
}

// ExtensionBuilder describes one manifest extension
type ExtensionBuilder struct {
	name        string
	description string
	files       map[string]string
	deps        []string
}

// File adds a source file copied to the same relative path in the agent tree
func (b *ExtensionBuilder) File(path, content string) *ExtensionBuilder {
	b.files[path] = content
	return b
}

// Description sets the manifest description
func (b *ExtensionBuilder) Description(d string) *ExtensionBuilder {
	b.description = d
	return b
}

// DependsOn adds a go module dependency
func (b *ExtensionBuilder) DependsOn(module string) *ExtensionBuilder {
	b.deps = append(b.deps, module)
	return b
}
