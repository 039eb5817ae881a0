package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	dir     string
	db      string
	jobs    string
	watched string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("PAGEWATCH_CONFIG", "")
	dir := t.TempDir()
	c := &cli{
		dir:     dir,
		db:      filepath.Join(dir, "history.db"),
		jobs:    filepath.Join(dir, "jobs.yaml"),
		watched: filepath.Join(dir, "page.txt"),
	}
	require.NoError(t, os.WriteFile(c.jobs, []byte("- name: page\n  command: cat "+c.watched+"\n"), 0o644))
	c.write(t, "line one\nline two\n")
	return c
}

func (c *cli) write(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(c.watched, []byte(content), 0o644))
}

func (c *cli) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--jobs", c.jobs, "--db", c.db, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_BaselineThenChange(t *testing.T) {
	c := newCLI(t)

	out, err := c.exec(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 changed, 1 unchanged")

	c.write(t, "line one\nline 2\n")
	out, err = c.exec(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 changed")
	assert.Contains(t, out, "-line two")
	assert.Contains(t, out, "+line 2")

	out, err = c.exec(t, "history", "page")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"), "header and two snapshots: %s", out)
}

func TestRun_JSONFormatAndSelection(t *testing.T) {
	c := newCLI(t)
	out, err := c.exec(t, "run", "--format", "json", "page")
	require.NoError(t, err)

	var rep struct {
		Outcomes []map[string]any `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, "page", rep.Outcomes[0]["name"])
	assert.Equal(t, true, rep.Outcomes[0]["baseline"])

	_, err = c.exec(t, "run", "missing-job")
	assert.Error(t, err)
}

func TestRun_ErrorExitCode(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, os.WriteFile(c.jobs, []byte("- command: cat "+filepath.Join(c.dir, "absent.txt")+"\n  max_tries: 1\n"), 0o644))

	out, err := c.exec(t, "run")
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)
	assert.Contains(t, out, "1 error")
}

func TestListHistoryReset(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec(t, "run")
	require.NoError(t, err)

	out, err := c.exec(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "page")
	assert.Contains(t, out, "command")

	// Changing the command orphans the old history.
	require.NoError(t, os.WriteFile(c.jobs, []byte("- name: page\n  command: head -n 100 "+c.watched+"\n"), 0o644))
	out, err = c.exec(t, "list", "--orphans")
	require.NoError(t, err)
	orphan := strings.TrimSpace(out)
	require.Len(t, orphan, 64)

	out, err = c.exec(t, "reset", orphan)
	require.NoError(t, err)
	assert.Contains(t, out, "1 snapshots deleted")

	out, err = c.exec(t, "list", "--orphans")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestTestFilter(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, os.WriteFile(c.jobs, []byte("- name: page\n  command: cat "+c.watched+"\n  filter:\n    - grep: two\n"), 0o644))

	out, err := c.exec(t, "test-filter", "page")
	require.NoError(t, err)
	assert.Equal(t, "line two", strings.TrimSpace(out))

	out, err = c.exec(t, "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"snapshots": 0`, "test-filter leaves history alone")
}
