package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mdprep/pipeline/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
equilibration_steps: 4
inputs:
  structure: system.gro
  topology: /abs/topol.top
  index: index.ndx
templates_dir: templates
work_dir: run
max_warnings: 3
keep_define: true
overrides:
  production:
    nsteps: "1000"
  equilibration_steps:
    2:
      dt: "0.001"
run_args:
  production: ["-nb", "cpu"]
engine:
  binary: gmx_mpi
ledger:
  disabled: true
log:
  level: debug
  format: json
`)
	dir := filepath.Dir(path)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.EquilibrationSteps)
	assert.Equal(t, filepath.Join(dir, "system.gro"), cfg.Inputs.Structure)
	assert.Equal(t, "/abs/topol.top", cfg.Inputs.Topology)
	assert.Equal(t, filepath.Join(dir, "templates"), cfg.TemplatesDir)
	assert.Equal(t, filepath.Join(dir, "run"), cfg.WorkDir)
	assert.Equal(t, 3, cfg.MaxWarnings)
	assert.True(t, cfg.KeepDefine)
	assert.Equal(t, "1000", cfg.Overrides.Production["nsteps"])
	assert.Equal(t, "0.001", cfg.Overrides.EquilibrationSteps[2]["dt"])
	assert.Equal(t, []string{"-nb", "cpu"}, cfg.RunArgs.Production)
	assert.Equal(t, []string{"-nb", "gpu"}, cfg.RunArgs.Equilibration)
	assert.Equal(t, "gmx_mpi", cfg.Engine.Binary)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.LedgerPath())
}

func TestLoadExplicitZeroSteps(t *testing.T) {
	cfg, err := Load(writeConfig(t, "equilibration_steps: 0\n"), true)
	require.NoError(t, err)

	resolved := cfg.PipelineConfig.WithDefaults()
	assert.Equal(t, 0, resolved.EquilibrationSteps)
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.EquilibrationSteps)
	assert.Equal(t, "gmx", cfg.Engine.Binary)
	assert.Equal(t, "step4.1_equilibration.mdp", cfg.Templates.Equilibration)
}

func TestLoadUnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "equilibration_stpes: 3\n"), true)
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "equilibration_stpes")
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, Default().Templates, cfg.Templates)

	_, err = Load(path, true)
	var cerr *domain.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{path}, cerr.Missing)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MDPREP_EQUILIBRATION_STEPS", "0")
	t.Setenv("MDPREP_GMX", "/opt/gromacs/bin/gmx")
	t.Setenv("MDPREP_WORK_DIR", "/scratch/run")
	t.Setenv("MDPREP_SKIP_TRAJECTORY", "true")
	t.Setenv("MDPREP_S3_BUCKET", "md-results")
	t.Setenv("MDPREP_S3_ENDPOINT", "localhost:9000")

	cfg, err := Load(writeConfig(t, "equilibration_steps: 5\nwork_dir: here\n"), true)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.PipelineConfig.WithDefaults().EquilibrationSteps)
	assert.Equal(t, "/opt/gromacs/bin/gmx", cfg.Engine.Binary)
	assert.Equal(t, "/scratch/run", cfg.WorkDir)
	assert.True(t, cfg.SkipTrajectory)
	assert.True(t, cfg.Publish.Enabled())
	assert.Equal(t, filepath.Join("/scratch/run", DefaultLedgerFile), cfg.LedgerPath())
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("MDPREP_MAX_WARNINGS", "many")
	_, err := Load("", false)
	var cerr *domain.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "env", cerr.Field)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MDPREP_LOG_LEVEL=warn\nMDPREP_GMX=gmx_d\n"), 0o644))

	// Registered with t.Setenv so they are restored after the test.
	t.Setenv("MDPREP_LOG_LEVEL", "")
	os.Unsetenv("MDPREP_LOG_LEVEL")
	t.Setenv("MDPREP_GMX", "gmx_preset")

	require.NoError(t, LoadDotEnv(envFile, filepath.Join(dir, "missing.env")))

	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "gmx_preset", cfg.Engine.Binary)
}

func TestMarshalRedactsSecret(t *testing.T) {
	cfg := Default()
	cfg.Publish.SecretKey = "hunter2"

	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "equilibration_steps: 1")
	assert.Equal(t, "hunter2", cfg.Publish.SecretKey)
}
