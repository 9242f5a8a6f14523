package definition

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"gopkg.in/yaml.v3"
)

// document mirrors the on-disk shape. Jobs stay as a raw node so duplicate
// names can be detected before a map decode collapses them.
type document struct {
	Name string            `yaml:"name"`
	On   triggerList       `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs yaml.Node         `yaml:"jobs"`
}

type jobDocument struct {
	Needs   stringList        `yaml:"needs"`
	RunsOn  stringList        `yaml:"runs-on"`
	Env     map[string]string `yaml:"env"`
	Timeout string            `yaml:"timeout"`
	Steps   []stepDocument    `yaml:"steps"`
}

type stepDocument struct {
	Name  string            `yaml:"name"`
	Uses  string            `yaml:"uses"`
	Run   string            `yaml:"run"`
	Shell string            `yaml:"shell"`
	With  map[string]string `yaml:"with"`
}

// stringList accepts either a scalar or a sequence of scalars.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = stringList{node.Value}

		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}

		*s = items

		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// triggerList accepts a scalar, a sequence, or a mapping whose keys are the
// trigger kinds (the values, such as branch filters, are ignored).
type triggerList []models.TriggerKind

func (t *triggerList) UnmarshalYAML(node *yaml.Node) error {
	var kinds []string

	switch node.Kind {
	case yaml.ScalarNode:
		kinds = []string{node.Value}
	case yaml.SequenceNode:
		if err := node.Decode(&kinds); err != nil {
			return err
		}
	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			kinds = append(kinds, node.Content[i].Value)
		}
	default:
		return fmt.Errorf("line %d: unsupported trigger declaration", node.Line)
	}

	seen := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		kind = strings.TrimSpace(kind)
		if kind == "" || seen[kind] {
			continue
		}

		seen[kind] = true
		*t = append(*t, models.TriggerKind(kind))
	}

	return nil
}

func (j *jobDocument) toSpec(name string, line int) (*models.JobSpec, error) {
	spec := &models.JobSpec{
		Name:  name,
		Needs: []string(j.Needs),
		Requirements: models.Requirements{
			Capabilities: []string(j.RunsOn),
			Env:          j.Env,
		},
		Steps: make([]*models.StepSpec, 0, len(j.Steps)),
	}

	if j.Timeout != "" {
		timeout, err := time.ParseDuration(j.Timeout)
		if err != nil || timeout < 0 {
			return nil, invalid(name, line, "invalid timeout %q", j.Timeout)
		}

		spec.Timeout = timeout
	}

	for i, step := range j.Steps {
		stepSpec, err := step.toSpec()
		if err != nil {
			return nil, invalid(name, line, "step %d: %v", i+1, err)
		}

		spec.Steps = append(spec.Steps, stepSpec)
	}

	return spec, nil
}

func (s *stepDocument) toSpec() (*models.StepSpec, error) {
	params := make(map[string]string, len(s.With)+2)
	for k, v := range s.With {
		params[k] = v
	}

	var action, name string

	switch {
	case s.Run != "" && s.Uses != "":
		return nil, errors.New("'run' and 'uses' are mutually exclusive")
	case s.Run != "":
		action = "run"
		params["command"] = s.Run
		name = firstLine(s.Run)

		if s.Shell != "" {
			params["shell"] = s.Shell
		}
	case s.Uses != "":
		action = s.Uses
		name = s.Uses
	default:
		return nil, errors.New("one of 'run' or 'uses' is required")
	}

	if s.Name != "" {
		name = s.Name
	}

	if len(params) == 0 {
		params = nil
	}

	return &models.StepSpec{Name: name, Action: action, Params: params}, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")

	return line
}
