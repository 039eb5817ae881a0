package filter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

const defaultShellTimeout = 30 * time.Second

var shellpipeStage = Stage{
	Name:        "shellpipe",
	Description: "pipe the payload through an external command (stdin to stdout)",
	RecognizedOptions: map[string]string{
		"command": "command line, split with shell quoting rules",
		"shell":   "run the command through sh -c instead of splitting it",
		"timeout": "seconds before the command is killed (default 30)",
	},
	DefaultOption: "command",
	Apply: func(in string, opts Options) (string, error) {
		line := strings.TrimSpace(opts.String("command", ""))
		if line == "" {
			return "", fmt.Errorf("empty command")
		}
		var argv []string
		if opts.Bool("shell", false) {
			argv = []string{"sh", "-c", line}
		} else {
			words, err := shellquote.Split(line)
			if err != nil {
				return "", fmt.Errorf("parse command: %w", err)
			}
			argv = words
		}

		timeout := defaultShellTimeout
		if s := opts.Int("timeout", 0); s > 0 {
			timeout = time.Duration(s) * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = strings.NewReader(in)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("%s: %w: %s", argv[0], err, msg)
			}
			return "", fmt.Errorf("%s: %w", argv[0], err)
		}
		return stdout.String(), nil
	},
}
