package testcase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandbuild/sandbuild/pkg/server"
)

// EnvSandbuildBinary overrides where the sandbuild binary is looked up
const EnvSandbuildBinary = "SANDBUILD_BINARY"

const (
	startupTimeout = 10 * time.Second
	requestTimeout = time.Minute
)

// Runner orchestrates the execution of a test case
type Runner struct {
	tc *TestCase
	t  *testing.T

	generator *Generator
	addr      string
	cmd       *exec.Cmd
	logs      bytes.Buffer
}

// Run executes the test case
func (r *Runner) Run() {
	r.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := r.setup(ctx); err != nil {
		r.t.Fatalf("test setup failed: %v", err)
	}
	defer r.stop()

	runCtx, err := r.request(ctx)
	if err != nil {
		r.t.Fatalf("build request failed: %v\nservice logs:\n%s", err, r.logs.String())
	}

	for _, assertion := range r.tc.assertions {
		assertion.Assert(r.t, runCtx)
	}
	if r.t.Failed() {
		r.t.Logf("service logs:\n%s", r.logs.String())
	}
}

func (r *Runner) setup(ctx context.Context) error {
	binary, err := GetSandbuildBinary()
	if err != nil {
		return err
	}

	r.generator, err = NewGenerator(r.t)
	if err != nil {
		return err
	}

	r.addr, err = freeAddr()
	if err != nil {
		return err
	}

	configFile, err := r.generator.GenerateLayout(r.tc, r.addr)
	if err != nil {
		return fmt.Errorf("failed to generate layout: %w", err)
	}

	r.cmd = exec.CommandContext(ctx, binary, "serve", "--config", configFile)
	r.cmd.Dir = r.generator.TempDir()
	r.cmd.Stdout = &r.logs
	r.cmd.Stderr = &r.logs
	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start sandbuild: %w", err)
	}

	return waitForListener(ctx, r.addr)
}

func (r *Runner) stop() {
	if r.cmd == nil || r.cmd.Process == nil {
		return
	}
	_ = r.cmd.Process.Signal(os.Interrupt)

	done := make(chan struct{})
	go func() {
		_ = r.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = r.cmd.Process.Kill()
		<-done
	}
}

func (r *Runner) request(ctx context.Context) (*RunContext, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+r.addr+server.DownloadPath, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range r.tc.headers {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	builds, err := r.generator.ReadBuilds()
	if err != nil {
		return nil, fmt.Errorf("failed to read build records: %w", err)
	}

	tree, err := r.generator.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to list agent tree: %w", err)
	}

	var targets []string
	for _, ext := range r.tc.extensions {
		for path := range ext.files {
			targets = append(targets, filepath.ToSlash(path))
		}
	}

	return &RunContext{
		Status:           resp.StatusCode,
		Body:             body,
		Builds:           builds,
		ExtensionTargets: targets,
		TreeAfter:        tree,
	}, nil
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}

func waitForListener(ctx context.Context, addr string) error {
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("sandbuild did not listen on %s within %s", addr, startupTimeout)
}

// GetSandbuildBinary returns the path to the sandbuild binary.
// It first checks the SANDBUILD_BINARY environment variable,
// then looks for the binary in common locations.
func GetSandbuildBinary() (string, error) {
	if path := os.Getenv(EnvSandbuildBinary); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%s set to %q but file not found", EnvSandbuildBinary, path)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	candidates := []string{
		filepath.Join(wd, "..", "..", "bin", "sandbuild"), // from functional/tests
		filepath.Join(wd, "..", "bin", "sandbuild"),       // from functional
		filepath.Join(wd, "bin", "sandbuild"),             // repo root
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("sandbuild binary not found; set %s environment variable", EnvSandbuildBinary)
}
