package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = new(bytes.Buffer), new(bytes.Buffer)
	SetOutput(stdout, stderr)
	SetColorEnabled(false)
	t.Cleanup(func() { SetOutput(nil, nil) })
	return stdout, stderr
}

func TestMessages(t *testing.T) {
	_, stderr := capture(t)

	Warnf("skipping %s: %s", "reef-c", "key not found")
	Errorf("restart failed")
	Infof("%d hosts", 3)

	assert.Equal(t, "Warning: skipping reef-c: key not found\nError: restart failed\n3 hosts\n", stderr.String())
}

func TestOutcome(t *testing.T) {
	stdout, _ := capture(t)

	Outcome(true, "reef-a restarted via gateway", "")
	Outcome(false, "reef-b restart failed", "pkill: not permitted\nstill_running\n")

	assert.Equal(t, "✓ reef-a restarted via gateway\n✗ reef-b restart failed\n    pkill: not permitted\n    still_running\n", stdout.String())
}

func TestTable(t *testing.T) {
	stdout, _ := capture(t)

	tbl := NewTable("INSTANCE", "HOST")
	tbl.Row("reef-a", "10.0.0.1")
	tbl.Row("reef-long-name", "10.0.0.2")
	require.NoError(t, tbl.Flush())

	assert.Equal(t,
		"INSTANCE        HOST\n"+
			"reef-a          10.0.0.1\n"+
			"reef-long-name  10.0.0.2\n",
		stdout.String())
}

func TestJSON(t *testing.T) {
	stdout, _ := capture(t)

	require.NoError(t, JSON(map[string]string{"path": "a<b"}))
	assert.Equal(t, "{\n  \"path\": \"a<b\"\n}\n", stdout.String())
}

func TestColor(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	assert.Equal(t, "\033[32m✓\033[0m", Status(true))
	assert.Equal(t, "\033[2mno\033[0m", YesNo(false))
}

func TestSection(t *testing.T) {
	stdout, _ := capture(t)
	Section("Agents")
	assert.Equal(t, "Agents\n──────\n", stdout.String())
}
