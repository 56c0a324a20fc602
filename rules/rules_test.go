package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
global_rules: |
  Answer in English.
projects:
  shop:
    rules: Use Jakarta EE 10.
    description: Online shop on Payara.
`)

	store, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Answer in English.\n", store.GlobalRules())
	assert.Equal(t, "Use Jakarta EE 10.", store.ProjectRules("shop"))
	assert.Equal(t, "Online shop on Payara.", store.ProjectInfo("shop"))
	assert.Empty(t, store.ProjectRules("unknown"))
	assert.Equal(t, []string{"shop"}, store.Projects())
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "rules.toml", `
global_rules = "Be concise."

[projects.billing]
rules = "Prefer records."
description = "Billing service"
`)

	store, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Be concise.", store.GlobalRules())
	assert.Equal(t, "Prefer records.", store.ProjectRules("billing"))
	assert.Equal(t, "Billing service", store.ProjectInfo("billing"))
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CORTEX_TEST_LANG", "Italian")
	path := writeFile(t, "rules.yml", "global_rules: Answer in ${CORTEX_TEST_LANG}.\n")

	store, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Answer in Italian.", store.GlobalRules())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading rules file")

	_, err = Load(writeFile(t, "bad.toml", "global_rules = [unterminated"))
	assert.ErrorContains(t, err, "parsing rules file")
}

func TestReload_KeepsPreviousRulesOnFailure(t *testing.T) {
	path := writeFile(t, "rules.yaml", "global_rules: first\n")
	store, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("global_rules: second\n"), 0o644))
	require.NoError(t, store.Reload())
	assert.Equal(t, "second", store.GlobalRules())

	require.NoError(t, os.WriteFile(path, []byte("global_rules: [broken"), 0o644))
	assert.Error(t, store.Reload())
	assert.Equal(t, "second", store.GlobalRules())
}

func TestStatic(t *testing.T) {
	s := Static{Global: "g", Projects: map[string]string{"p": "rules"}}
	assert.Equal(t, "g", s.GlobalRules())
	assert.Equal(t, "rules", s.ProjectRules("p"))
	assert.Empty(t, Static{}.ProjectRules("p"))
}
