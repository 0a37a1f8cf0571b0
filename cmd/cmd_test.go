package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/store"
)

const legacyStore = `rules:
  - id: r1
    type: url-rewrite
    sourcePattern: https://a.test/(.*)
    targetTemplate: https://b.test/$1
  - type: header-modify
    urlPattern: .*
    headers:
      - name: X-Env
        operation: set
        value: dev
`

func writeStore(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	compileURL, compileType, migrateDryRun = "", string(common.ResourceMainFrame), false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCompileCommand(t *testing.T) {
	path := writeStore(t, legacyStore)

	out := execute(t, "compile", "--store", "file", "--store-path", path, "--engine", "memory")

	var rules []common.CompiledRule
	require.NoError(t, json.Unmarshal([]byte(out), &rules), out)
	require.Len(t, rules, 2)
	assert.Equal(t, common.ActionRedirect, rules[0].Action.Type)
	assert.Equal(t, `https://b.test/\1`, rules[0].Action.Redirect.RegexSubstitution)
	assert.Equal(t, common.ActionModifyHeaders, rules[1].Action.Type)
}

func TestCompileCommandEvaluate(t *testing.T) {
	path := writeStore(t, legacyStore)

	out := execute(t, "compile", "--store", "file", "--store-path", path, "--engine", "memory", "--url", "https://a.test/x")

	var outcome struct {
		RedirectURL string `json:"redirectUrl"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outcome), out)
	assert.Equal(t, "https://b.test/x", outcome.RedirectURL)
}

func TestMigrateCommand(t *testing.T) {
	path := writeStore(t, legacyStore)

	out := execute(t, "migrate", "--store", "file", "--store-path", path, "--engine", "memory")
	assert.Contains(t, out, "Moved 2 legacy rules")

	st, err := store.NewFile(path, 0)
	require.NoError(t, err)
	defer st.Close()

	snapshot, err := model.Load(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, snapshot.Groups, 1)
	assert.Equal(t, model.DefaultGroupName, snapshot.Groups[0].Name)
	assert.Len(t, snapshot.Groups[0].Rules, 2)
	assert.Empty(t, snapshot.Rules)

	_, ok, err := st.Get(context.Background(), model.KeyRules)
	require.NoError(t, err)
	assert.False(t, ok)

	out = execute(t, "migrate", "--store", "file", "--store-path", path, "--engine", "memory")
	assert.Contains(t, out, "Nothing to migrate")
}
