package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFormatsCommand(t *testing.T) {
	out, err := runRoot(t, "formats", "--category", "calendar")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	for _, line := range lines[1:] {
		assert.Contains(t, line, "calendar")
	}

	out, err = runRoot(t, "formats", "ics")
	require.NoError(t, err)
	assert.Contains(t, out, "vcs")
	assert.Contains(t, out, "csv")
	assert.NotContains(t, out, "png")

	out, err = runRoot(t, "formats", "jpg")
	require.NoError(t, err)
	assert.Contains(t, out, "webp")
	assert.NotContains(t, out, "heic")

	_, err = runRoot(t, "formats", "zzz")
	assert.Error(t, err)

	_, err = runRoot(t, "formats", "--category", "audio")
	assert.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"worker", "api", "migrate", "formats"})
}
