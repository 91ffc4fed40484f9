package services

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/surveyforge/codeframe-backend/internal/logger"
)

const generationPipelineEnv = "GENERATION_PIPELINE_YAML"

//go:embed generation_pipeline.yaml
var generationPipelineYAML []byte

// fallback ladder used when the YAML is missing or invalid
var fallbackStagePcts = map[string][2]int{
	"embed":            {5, 30},
	"cluster":          {40, 45},
	"label":            {50, 65},
	"themes":           {66, 70},
	"mece":             {80, 80},
	"brand_validation": {85, 95},
	"publish":          {100, 100},
}

type yamlPipelineSpec struct {
	Pipeline string          `yaml:"pipeline"`
	Version  int             `yaml:"version"`
	Stages   []yamlStageSpec `yaml:"stages"`
}

type yamlStageSpec struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	Done  int    `yaml:"done"`
}

var (
	stagePctOnce  sync.Once
	stagePctCache map[string][2]int
	stagePctErr   error
)

func loadStagePcts() (map[string][2]int, error) {
	data := generationPipelineYAML
	if path := strings.TrimSpace(os.Getenv(generationPipelineEnv)); path != "" {
		ext, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		data = ext
	}

	var spec yamlPipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if len(spec.Stages) == 0 {
		return nil, fmt.Errorf("pipeline %q has no stages", spec.Pipeline)
	}

	out := make(map[string][2]int, len(spec.Stages))
	prev := 0
	for _, st := range spec.Stages {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return nil, fmt.Errorf("pipeline %q has a stage with an empty name", spec.Pipeline)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", name)
		}
		if st.Start < prev || st.Done < st.Start || st.Done > 100 {
			return nil, fmt.Errorf("stage %q breaks the monotonic 0..100 progress ladder", name)
		}
		out[name] = [2]int{st.Start, st.Done}
		prev = st.Done
	}
	if last := spec.Stages[len(spec.Stages)-1]; last.Done != 100 {
		return nil, fmt.Errorf("last stage %q must end at 100", last.Name)
	}
	return out, nil
}

// stagePcts returns the (start, done) progress percentages for a pipeline
// stage, falling back to the built-in ladder when the spec cannot be loaded.
func stagePcts(log *logger.Logger, name string) (int, int) {
	stagePctOnce.Do(func() {
		stagePctCache, stagePctErr = loadStagePcts()
	})
	if stagePctErr != nil {
		if log != nil {
			log.Warn("Pipeline stage spec load failed; using fallback ladder", "error", stagePctErr)
		}
	} else if pct, ok := stagePctCache[name]; ok {
		return pct[0], pct[1]
	}
	if pct, ok := fallbackStagePcts[name]; ok {
		return pct[0], pct[1]
	}
	return 0, 0
}
