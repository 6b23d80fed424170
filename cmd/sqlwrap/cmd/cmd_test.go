package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestParseArg(t *testing.T) {
	assert.Nil(t, parseArg(`\N`))
	assert.Equal(t, int64(-7), parseArg("-7"))
	assert.Equal(t, 2.5, parseArg("2.5"))
	assert.Equal(t, "abc", parseArg("abc"))
	assert.Equal(t, "", parseArg(""))
	assert.Equal(t, "v1.2", parseArg("v1.2"))
}

func TestParseOut(t *testing.T) {
	spec, err := parseOut("1:bigint")
	require.NoError(t, err)
	assert.Equal(t, 1, spec.index)
	assert.Equal(t, "BIGINT", spec.typ.String())

	spec, err = parseOut("3:DECIMAL:2")
	require.NoError(t, err)
	assert.Equal(t, 2, spec.scale)

	for _, bad := range []string{"1", "x:BIGINT", "1:NOPE", "1:DECIMAL:x", "1:A:2:3"} {
		_, err := parseOut(bad)
		assert.Error(t, err, bad)
	}
}

func TestStateCommand(t *testing.T) {
	out := run(t, "state", "23505", "08006", "-o", "json")

	var got table
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "DUPLICATE_KEY", got.Rows[0][2])
	assert.Equal(t, false, got.Rows[0][3])
	assert.Equal(t, "STALE_CONNECTION", got.Rows[1][2])
	assert.Equal(t, true, got.Rows[1][3])
}

func TestSQLiteCommands(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cli.db")

	run(t, "exec", "--dsn", dsn, "-o", "table", "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
	run(t, "exec", "--dsn", dsn, "-o", "table", "INSERT INTO t (name) VALUES (?)", "ada")

	out := run(t, "query", "--dsn", dsn, "-o", "yaml", "SELECT id, {fn ucase(name)} AS upper FROM t")
	var got table
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"id", "upper"}, got.Columns)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "ADA", got.Rows[0][1])

	out = run(t, "call", "--dsn", dsn, "-o", "json", "--out", "1:BIGINT", "{? = call abs(?)}", "--", "-7")
	got = table{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Rows, 1)
	assert.Equal(t, []any{1.0, "BIGINT", 7.0}, got.Rows[0])

	out = run(t, "native", "--dsn", dsn, "-o", "table", "SELECT {fn now()}")
	assert.Equal(t, "SELECT datetime('now')\n", out)
}
