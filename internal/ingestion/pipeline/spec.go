package pipeline

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

const pipelineSpecEnv = "PIPELINE_SPEC_YAML"

//go:embed pipeline.yaml
var pipelineSpecFS embed.FS

// fallback used when YAML is missing or invalid
var fallbackTimeouts = map[Stage]time.Duration{
	StageNormalize: 60 * time.Second,
	StageExtract:   120 * time.Second,
	StageEmbed:     60 * time.Second,
}

type yamlPipelineSpec struct {
	Pipeline string          `yaml:"pipeline"`
	Version  int             `yaml:"version"`
	Stages   []yamlStageSpec `yaml:"stages"`
}

type yamlStageSpec struct {
	Name    string         `yaml:"name"`
	Timeout string         `yaml:"timeout"`
	Config  map[string]any `yaml:"config"`
}

// Spec holds per-stage timeouts and provider settings.
type Spec struct {
	Version  int
	timeouts map[Stage]time.Duration
	config   map[Stage]map[string]any
}

func DefaultSpec() *Spec {
	s := &Spec{
		timeouts: map[Stage]time.Duration{},
		config:   map[Stage]map[string]any{},
	}
	for k, v := range fallbackTimeouts {
		s.timeouts[k] = v
	}
	return s
}

var (
	specOnce  sync.Once
	specCache *Spec
	specErr   error
)

// LoadSpec reads the stage spec once per process, from PIPELINE_SPEC_YAML
// when set and the embedded file otherwise.
func LoadSpec(log *logger.Logger) *Spec {
	specOnce.Do(func() {
		var data []byte
		data, specErr = readPipelineSpec()
		if specErr == nil {
			specCache, specErr = ParseSpec(data)
		}
	})
	if specErr != nil {
		if log != nil {
			log.Warn("pipeline spec load failed; using fallback", "error", specErr)
		}
		return DefaultSpec()
	}
	return specCache
}

func readPipelineSpec() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(pipelineSpecEnv)); path != "" {
		return os.ReadFile(path)
	}
	return pipelineSpecFS.ReadFile("pipeline.yaml")
}

func ParseSpec(data []byte) (*Spec, error) {
	var raw yamlPipelineSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := validatePipelineSpec(&raw); err != nil {
		return nil, err
	}

	s := DefaultSpec()
	s.Version = raw.Version
	for _, st := range raw.Stages {
		stage := Stage(strings.TrimSpace(st.Name))
		if t := strings.TrimSpace(st.Timeout); t != "" {
			d, _ := time.ParseDuration(t)
			s.timeouts[stage] = d
		}
		if st.Config != nil {
			s.config[stage] = st.Config
		}
	}
	return s, nil
}

func validatePipelineSpec(spec *yamlPipelineSpec) error {
	if spec == nil {
		return errors.New("missing spec")
	}
	if strings.TrimSpace(spec.Pipeline) != "document_processing" {
		return fmt.Errorf("unexpected pipeline: %s", spec.Pipeline)
	}
	if len(spec.Stages) == 0 {
		return errors.New("no stages defined")
	}

	known := map[Stage]int{}
	for i, s := range Stages {
		known[s] = i
	}
	last := -1
	seen := map[Stage]bool{}
	for _, st := range spec.Stages {
		name := Stage(strings.TrimSpace(st.Name))
		if name == "" {
			return errors.New("stage name is required")
		}
		idx, ok := known[name]
		if !ok {
			return fmt.Errorf("unknown stage: %s", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate stage name: %s", name)
		}
		seen[name] = true
		if idx < last {
			return fmt.Errorf("stage %s: out of order", name)
		}
		last = idx
		if t := strings.TrimSpace(st.Timeout); t != "" {
			d, err := time.ParseDuration(t)
			if err != nil {
				return fmt.Errorf("stage %s: invalid timeout %q: %w", name, t, err)
			}
			if d <= 0 {
				return fmt.Errorf("stage %s: timeout must be positive", name)
			}
		}
	}
	return nil
}

func (s *Spec) Timeout(stage Stage) time.Duration {
	if s == nil {
		return fallbackTimeouts[stage]
	}
	return s.timeouts[stage]
}

// WithTimeout returns a copy of s with one stage timeout replaced.
func (s *Spec) WithTimeout(stage Stage, d time.Duration) *Spec {
	out := DefaultSpec()
	if s != nil {
		out.Version = s.Version
		for k, v := range s.timeouts {
			out.timeouts[k] = v
		}
		for k, v := range s.config {
			out.config[k] = v
		}
	}
	out.timeouts[stage] = d
	return out
}

func (s *Spec) ConfigInt(stage Stage, key string, def int) int {
	v, ok := s.configValue(stage, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func (s *Spec) ConfigBool(stage Stage, key string, def bool) bool {
	v, ok := s.configValue(stage, key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func (s *Spec) configValue(stage Stage, key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	cfg := s.config[stage]
	if cfg == nil {
		return nil, false
	}
	v, ok := cfg[key]
	return v, ok
}
