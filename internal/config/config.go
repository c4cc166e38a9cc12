package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"relosla/internal/sla"
)

// Config models relosla.yml.
type Config struct {
	SLA struct {
		MaxIterations        int           `yaml:"max_iterations"`
		RejectionDedupWindow time.Duration `yaml:"rejection_dedup_window"`
		CoverageThreshold    float64       `yaml:"coverage_threshold"`
		RejectionTolerance   time.Duration `yaml:"rejection_tolerance"`
		Workers              int           `yaml:"workers"`
	} `yaml:"sla"`
	Fields struct {
		ValidationStatus string `yaml:"validation_status"`
		TaskStatus       string `yaml:"task_status"`
	} `yaml:"fields"`
	Vocabulary Vocabulary `yaml:"vocabulary"`
	Server     struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
}

// Vocabulary overrides keyword tables. Empty lists keep the built-in table.
type Vocabulary struct {
	Validation struct {
		Invalidated []string `yaml:"invalidated"`
		Rejected    []string `yaml:"rejected"`
		Validated   []string `yaml:"validated"`
		Submitted   []string `yaml:"submitted"`
		Draft       []string `yaml:"draft"`
	} `yaml:"validation"`
	Task struct {
		Completed []string `yaml:"completed"`
		Rejected  []string `yaml:"rejected"`
		Cancelled []string `yaml:"cancelled"`
	} `yaml:"task"`
	AttendTasks   []string            `yaml:"attend_tasks"`
	ExcludedCodes []string            `yaml:"excluded_codes"`
	Excluded      []string            `yaml:"excluded"`
	Sectors       map[string][]string `yaml:"sectors"`
	WholeWords    []string            `yaml:"whole_words"`
}

var executionSectors = map[string]sla.Sector{
	"hr":       sla.SectorHR,
	"medical":  sla.SectorMedical,
	"training": sla.SectorTraining,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with relosla config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.SLA.MaxIterations < 1 {
		return fmt.Errorf("config.sla.max_iterations must be at least 1")
	}
	if c.SLA.RejectionDedupWindow <= 0 {
		return fmt.Errorf("config.sla.rejection_dedup_window must be positive")
	}
	if c.SLA.CoverageThreshold < 0 || c.SLA.CoverageThreshold > 1 {
		return fmt.Errorf("config.sla.coverage_threshold must be within [0,1]")
	}
	if c.SLA.RejectionTolerance < 0 {
		return fmt.Errorf("config.sla.rejection_tolerance must not be negative")
	}
	if c.SLA.Workers < 1 {
		return fmt.Errorf("config.sla.workers must be at least 1")
	}
	if strings.TrimSpace(c.Fields.ValidationStatus) == "" {
		return fmt.Errorf("config.fields.validation_status is required")
	}
	if strings.TrimSpace(c.Fields.TaskStatus) == "" {
		return fmt.Errorf("config.fields.task_status is required")
	}
	if sla.Normalize(c.Fields.ValidationStatus) == sla.Normalize(c.Fields.TaskStatus) {
		return fmt.Errorf("config.fields.validation_status and task_status must differ")
	}
	for name, keywords := range c.Vocabulary.Sectors {
		if _, ok := executionSectors[strings.ToLower(name)]; !ok {
			return fmt.Errorf("config.vocabulary.sectors has unknown sector %s", name)
		}
		for _, k := range keywords {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("sector %s has empty keyword", name)
			}
		}
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit must not be negative")
	}
	return nil
}

// Params converts the sla section into engine parameters.
func (c *Config) Params() sla.Params {
	return sla.Params{
		MaxIterations:      c.SLA.MaxIterations,
		DedupWindow:        c.SLA.RejectionDedupWindow,
		CoverageThreshold:  c.SLA.CoverageThreshold,
		RejectionTolerance: c.SLA.RejectionTolerance,
		ValidationField:    c.Fields.ValidationStatus,
		TaskStatusField:    c.Fields.TaskStatus,
		Vocabulary:         sla.NewVocabulary(c.VocabularyConfig()),
	}
}

// VocabularyConfig merges overrides onto the built-in keyword tables.
func (c *Config) VocabularyConfig() sla.VocabularyConfig {
	out := sla.DefaultVocabularyConfig()
	v := c.Vocabulary
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = append([]string(nil), src...)
		}
	}
	pick(&out.Invalidated, v.Validation.Invalidated)
	pick(&out.Rejected, v.Validation.Rejected)
	pick(&out.Validated, v.Validation.Validated)
	pick(&out.Submitted, v.Validation.Submitted)
	pick(&out.Draft, v.Validation.Draft)
	pick(&out.TaskCompleted, v.Task.Completed)
	pick(&out.TaskRejected, v.Task.Rejected)
	pick(&out.TaskCancelled, v.Task.Cancelled)
	pick(&out.AttendTasks, v.AttendTasks)
	pick(&out.ExcludedCodes, v.ExcludedCodes)
	pick(&out.Excluded, v.Excluded)
	pick(&out.WordKeywords, v.WholeWords)
	for name, keywords := range v.Sectors {
		if s, ok := executionSectors[strings.ToLower(name)]; ok && len(keywords) > 0 {
			out.SectorKeywords[s] = append([]string(nil), keywords...)
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "relosla.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `sla:
  max_iterations: 30
  rejection_dedup_window: 5m
  coverage_threshold: 0.10
  rejection_tolerance: 60s
  workers: 8

fields:
  validation_status: status_validacao
  task_status: status_tarefas

# Keyword lists replace the built-in tables when set. Matching is done on
# upper-cased text without accents.
vocabulary:
  excluded_codes: ["7", "8"]
  sectors:
    training: [TREIN, CAPACIT, CURSO, CERTIFIC]
    medical: [MEDIC, SAUDE, EXAME, ASO, CLINIC]
    hr: [RH, RECURSOS HUMANOS, DEPARTAMENTO PESSOAL]
  whole_words: [RH, ASO]

server:
  addr: 127.0.0.1:8080
  base_path: ""
  rate_limit:
    rps: 20
    burst: 40

database:
  dsn: ""
`
