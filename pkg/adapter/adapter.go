// Package adapter implements the Tool Adapter (spec §4.6): subprocess
// invocation of the wrapped code-generation CLIs, with timeout, retry, and
// credential lookup.
package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/guardloop/guardloop/internal/log"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const (
	maxAttempts    = 3
	keyringService = "guardloop"
)

// Response is the outcome of one adapter invocation.
type Response struct {
	RawOutput   string
	ExecutionMS int64
	Error       string
	ExitCode    int
	Stdout      string
	Stderr      string
}

// StreamFunc receives stdout lines as they arrive.
type StreamFunc func(line string)

// Adapter wraps a single CLI tool binary.
type Adapter struct {
	Name      string
	Binary    string
	ExtraArgs []string
	Timeout   time.Duration
}

// NewAdapter constructs an Adapter for a named tool and its binary path
// (resolved via PATH if not absolute).
func NewAdapter(name, binary string, extraArgs []string, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Adapter{Name: name, Binary: binary, ExtraArgs: extraArgs, Timeout: timeout}
}

// Execute spawns the tool with prompt as an argument, retrying up to
// maxAttempts times with exponential backoff on non-zero exit or timeout.
func (a *Adapter) Execute(ctx context.Context, prompt string, timeout time.Duration, stream StreamFunc) Response {
	if timeout <= 0 {
		timeout = a.Timeout
	}

	var last Response
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = a.runOnce(ctx, prompt, timeout, stream)
		if last.ExitCode == 0 {
			return last
		}
		if attempt < maxAttempts {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			log.Warn("tool invocation failed, retrying",
				zap.String("tool", a.Name), zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return last
			case <-time.After(backoff):
			}
		}
	}
	return last
}

func (a *Adapter) runOnce(ctx context.Context, prompt string, timeout time.Duration, stream StreamFunc) Response {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, a.ExtraArgs...), prompt)
	cmd := exec.CommandContext(runCtx, a.Binary, args...)
	cmd.Env = os.Environ()

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Response{Error: err.Error(), ExitCode: -1, ExecutionMS: time.Since(start).Milliseconds()}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Response{Error: err.Error(), ExitCode: -1, ExecutionMS: time.Since(start).Milliseconds()}
	}

	if err := cmd.Start(); err != nil {
		return Response{Error: err.Error(), ExitCode: -1, ExecutionMS: time.Since(start).Milliseconds()}
	}

	var stdoutLines []string
	var stderrLines []string
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			stdoutLines = append(stdoutLines, line)
			if stream != nil {
				stream(line)
			}
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			stderrLines = append(stderrLines, scanner.Text())
		}
	}()
	<-done
	<-done

	waitErr := cmd.Wait()
	elapsed := time.Since(start).Milliseconds()

	stdout := strings.Join(stdoutLines, "\n")
	stderr := strings.Join(stderrLines, "\n")

	if runCtx.Err() == context.DeadlineExceeded {
		return Response{
			RawOutput: stdout, Stdout: stdout, Stderr: stderr,
			ExitCode: -1, ExecutionMS: elapsed,
			Error: fmt.Sprintf("Timeout after %ds", int(timeout.Seconds())),
		}
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Response{
				RawOutput: stdout, Stdout: stdout, Stderr: stderr,
				ExitCode: -1, ExecutionMS: elapsed, Error: waitErr.Error(),
			}
		}
	}

	resp := Response{RawOutput: stdout, Stdout: stdout, Stderr: stderr, ExitCode: exitCode, ExecutionMS: elapsed}
	if exitCode != 0 {
		resp.Error = fmt.Sprintf("tool exited with code %d", exitCode)
	}
	return resp
}

// ValidateInstallation reports whether the adapter's binary exists on the
// search path.
func (a *Adapter) ValidateInstallation() bool {
	if a.Binary == "" {
		return false
	}
	_, err := exec.LookPath(a.Binary)
	return err == nil
}

var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`v?(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`version\s+(\d+\.\d+(\.\d+)?)`),
	regexp.MustCompile(`(\d+\.\d+)`),
}

// Version runs "<binary> --version" and parses the result against a small
// set of regex forms, returning "" if no pattern matches.
func (a *Adapter) Version() string {
	out, err := exec.Command(a.Binary, "--version").CombinedOutput()
	if err != nil {
		return ""
	}
	text := string(out)
	for _, re := range versionPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// StoreAPIKey persists a per-tool API key in the OS credential store.
func StoreAPIKey(tool, apiKey string) error {
	return keyring.Set(keyringService, tool, apiKey)
}

// LoadAPIKey retrieves a per-tool API key, returning "" if none is stored.
func LoadAPIKey(tool string) string {
	key, err := keyring.Get(keyringService, tool)
	if err != nil {
		return ""
	}
	return key
}

// DeleteAPIKey removes a stored per-tool API key.
func DeleteAPIKey(tool string) error {
	return keyring.Delete(keyringService, tool)
}
