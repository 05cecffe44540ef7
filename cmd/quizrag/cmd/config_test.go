package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/quizrag/configs"
	"github.com/Aman-CERP/quizrag/internal/config"
)

func TestConfigTemplates_Parse(t *testing.T) {
	for name, tmpl := range map[string]string{
		"user":    configs.UserConfigTemplate,
		"project": configs.ProjectConfigTemplate,
	} {
		t.Run(name, func(t *testing.T) {
			// Given: defaults overlaid with the template
			cfg := config.NewConfig()
			require.NoError(t, yaml.Unmarshal([]byte(tmpl), cfg))

			// Then: the result is valid
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestConfigInit_WritesUserTemplate(t *testing.T) {
	// Given: an empty config home
	dir := setupProject(t)

	// When: running config init
	out, err := run(t, dir, "config", "init")
	require.NoError(t, err, out)

	// Then: the template is written
	data, err := os.ReadFile(config.GetUserConfigPath())
	require.NoError(t, err)
	assert.Equal(t, configs.UserConfigTemplate, string(data))

	// When: running it again without --force
	out, err = run(t, dir, "config", "init")

	// Then: the file is left alone
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestConfigInit_Project(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, os.Remove(filepath.Join(dir, ".quizrag.yaml")))

	out, err := run(t, dir, "config", "init", "--project")

	require.NoError(t, err, out)
	assert.FileExists(t, filepath.Join(dir, ".quizrag.yaml"))
}

func TestConfigShow_RedactsCredentials(t *testing.T) {
	// Given: a secret key in the environment
	dir := setupProject(t)
	t.Setenv("QUIZRAG_STORAGE_SECRET_KEY", "hunter2")

	// When: showing the configuration as YAML
	out, err := run(t, dir, "config", "show")

	// Then: the project values are merged and the secret is hidden
	require.NoError(t, err, out)
	assert.Contains(t, out, "provider: static")
	assert.NotContains(t, out, "hunter2")

	out, err = run(t, dir, "config", "show", "--json")
	require.NoError(t, err, out)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Contains(t, cfg, "storage")
}
