// Package decompile shells out to a headless decompiler script and collects
// its text output for scanning. The scanner itself never touches binaries;
// this wrapper is the bridge for pipelines that start from a raw sample.
package decompile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Config locates the decompiler script.
type Config struct {
	Script  string        // defaults to MALSIFT_DECOMPILER env
	Timeout time.Duration // per-binary budget, defaults to 10 minutes
}

// Decompiler runs a headless decompiler over binaries.
type Decompiler struct {
	script  string
	timeout time.Duration
}

// New resolves and verifies the decompiler script path.
func New(cfg Config) (*Decompiler, error) {
	script := cfg.Script
	if script == "" {
		script = os.Getenv("MALSIFT_DECOMPILER")
	}
	if script == "" {
		return nil, fmt.Errorf("no decompiler configured (set MALSIFT_DECOMPILER)")
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("decompiler script %s: %w", script, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Decompiler{script: script, timeout: timeout}, nil
}

// Run invokes the script as <script> <binary> <outDir> and returns outDir on
// success. The script is expected to write one or more source text files
// there; unit.LoadDir picks them up afterwards.
func (d *Decompiler) Run(ctx context.Context, binaryPath, outDir string) (string, error) {
	if _, err := os.Stat(binaryPath); err != nil {
		return "", fmt.Errorf("decompile input %s: %w", binaryPath, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("decompile output dir %s: %w", outDir, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.script, binaryPath, outDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("decompile %s: timed out after %s", binaryPath, d.timeout)
		}
		detail := stderr.String()
		if len(detail) > 500 {
			detail = detail[:500]
		}
		return "", fmt.Errorf("decompile %s: %w: %s", binaryPath, err, detail)
	}
	return outDir, nil
}
