package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relosla/internal/sla"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, sla.MaxIterations, cfg.SLA.MaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.SLA.RejectionDedupWindow)
	assert.Equal(t, 60*time.Second, cfg.SLA.RejectionTolerance)
	assert.InDelta(t, 0.10, cfg.SLA.CoverageThreshold, 1e-9)
	assert.Equal(t, "status_validacao", cfg.Fields.ValidationStatus)

	p := cfg.Params()
	assert.Equal(t, sla.DefaultDedupWindow, p.DedupWindow)
	require.NotNil(t, p.Vocabulary)
	assert.Equal(t, sla.SectorMedical, p.Vocabulary.Sector("Exame periódico"))
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("sla:\n  workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.SLA.Workers)
	assert.Equal(t, 30, cfg.SLA.MaxIterations)
	assert.Equal(t, "status_tarefas", cfg.Fields.TaskStatus)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"iterations": "sla:\n  max_iterations: 0\n",
		"coverage":   "sla:\n  coverage_threshold: 1.5\n",
		"workers":    "sla:\n  workers: 0\n",
		"fields":     "fields:\n  task_status: status_validacao\n",
		"sector":     "vocabulary:\n  sectors:\n    finance: [FIN]\n",
		"rate":       "server:\n  rate_limit:\n    rps: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
	_, err := FromYAML([]byte("sla: [unclosed"))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestVocabularyOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte(`vocabulary:
  sectors:
    hr: [PESSOAL]
  excluded: [SUSPENSO]
`))
	require.NoError(t, err)
	v := sla.NewVocabulary(cfg.VocabularyConfig())
	assert.Equal(t, sla.SectorHR, v.Sector("Departamento pessoal"))
	assert.Equal(t, sla.SectorUnknown, v.Sector("Equipe RH"))
	assert.Equal(t, sla.SectorMedical, v.Sector("Exame"))
	assert.True(t, v.Excluded("Suspenso"))
	assert.False(t, v.Excluded("Aguardando desligamento"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.ErrorContains(t, err, "not found")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "relosla.yml"), []byte("server:\n  addr: 0.0.0.0:9999\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Addr)
	assert.Equal(t, filepath.Join(dir, "relosla.yml"), Path(dir))
}
