package retrieve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// CommandBackend runs a local command and returns its standard output.
type CommandBackend struct {
	// MaxBytes caps the captured output unless the job sets its own.
	// Default: 10MB.
	MaxBytes int64
	// Env is appended to the inherited environment.
	Env []string
}

// Fetch runs req.Descriptor.Command. The command line is split with shell
// quoting rules, or handed to `sh -c` when Shell is set. A non-zero exit
// is a process_exit error carrying the tail of stderr.
func (b *CommandBackend) Fetch(ctx context.Context, req Request) (*Result, error) {
	d := req.Descriptor
	var argv []string
	if d.Shell {
		argv = []string{"sh", "-c", d.Command}
	} else {
		words, err := shellquote.Split(d.Command)
		if err != nil {
			return nil, &Error{Kind: KindInvalid, Err: fmt.Errorf("parse command: %w", err)}
		}
		if len(words) == 0 {
			return nil, &Error{Kind: KindInvalid, Err: errors.New("empty command")}
		}
		argv = words
	}

	maxBytes := b.MaxBytes
	if d.MaxBytes > 0 {
		maxBytes = d.MaxBytes
	}
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = d.Dir
	if len(b.Env) > 0 {
		cmd.Env = append(cmd.Environ(), b.Env...)
	}
	// Descendants that keep stderr open must not hold Wait forever.
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: KindInvalid, Err: err}
	}

	out, readErr := horosafe.LimitedReadAll(stdout, maxBytes)
	if readErr != nil {
		_ = cmd.Process.Kill()
	}
	err = cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, AsError(ctxErr)
	}
	if readErr != nil {
		return nil, &Error{Kind: KindInvalid, Err: fmt.Errorf("stdout: %w", readErr)}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := lastLine(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return nil, &Error{Kind: KindProcessExit, Err: fmt.Errorf("exit %d: %s", exitErr.ExitCode(), msg)}
		}
		return nil, &Error{Kind: KindInvalid, Err: err}
	}
	return &Result{Content: out}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
