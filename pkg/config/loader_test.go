package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAppliesDefaultsWhenNoFilePresent(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.WorkerCount)
	assert.Equal(t, 120*time.Second, cfg.Batch.BatchDeadline)
	assert.True(t, cfg.Auth.Local)
}

func TestInitializeMergesUserYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "batch:\n  worker_count: 25\nmodel:\n  model_name: custom-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tyrerec.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Batch.WorkerCount)
	assert.Equal(t, "custom-model", cfg.Model.ModelName)
	// Untouched defaults survive the merge.
	assert.Equal(t, 500, cfg.Batch.MaxCAMsPerBatch)
}

func TestInitializeExpandsEnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_MODEL_ENDPOINT", "model.internal:9090")
	yamlContent := "model:\n  endpoint: \"${TEST_MODEL_ENDPOINT}\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tyrerec.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "model.internal:9090", cfg.Model.Endpoint)
}

func TestInitializeRejectsInvalidWorkerCount(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tyrerec.yaml"), []byte("batch:\n  worker_count: -1\n"), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tyrerec.yaml"), []byte("not: [valid yaml"), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}
