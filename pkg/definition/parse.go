// Package definition parses pipeline documents into validated workflow
// definitions. A definition returned by Parse has unique job names, only
// known dependencies and an acyclic dependency relation.
package definition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const defaultName = "workflow"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseFile reads and parses the definition at path.
func ParseFile(path string) (*models.WorkflowDefinition, error) {
	// #nosec G304 -- the path is supplied by the operator
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read definition %s: %w", path, err)
	}

	return Parse(raw)
}

// Parse turns a YAML (or JSON) document into a WorkflowDefinition. On any
// problem it returns a *ValidationError and no definition.
func Parse(raw []byte) (*models.WorkflowDefinition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, invalid("", 0, "%v", err)
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, invalid("", 0, "empty document")
	}

	body := root.Content[0]
	if body.Kind != yaml.MappingNode {
		return nil, invalid("", body.Line, "document must be a mapping")
	}

	jobs := mappingValue(body, "jobs")
	if jobs == nil {
		return nil, invalid("", body.Line, "'jobs' is required")
	}

	if jobs.Kind != yaml.MappingNode {
		return nil, invalid("", jobs.Line, "'jobs' must be a mapping of job name to job")
	}

	if err := checkDuplicateJobs(jobs); err != nil {
		return nil, err
	}

	var generic map[string]any
	if err := body.Decode(&generic); err != nil {
		return nil, invalid("", body.Line, "%v", err)
	}

	if err := validateSchema(generic); err != nil {
		return nil, invalid("", 0, "%v", err)
	}

	var doc document
	if err := body.Decode(&doc); err != nil {
		return nil, invalid("", body.Line, "%v", err)
	}

	def, err := doc.toDefinition(jobs)
	if err != nil {
		return nil, err
	}

	if err := Validate(def); err != nil {
		return nil, err
	}

	return def, nil
}

// Validate checks a definition built outside Parse, such as one loaded from a
// store. Duplicate job names cannot be expressed in the map and are not
// checked here.
func Validate(def *models.WorkflowDefinition) error {
	if err := validate.Struct(def); err != nil {
		return invalid("", 0, "%v", err)
	}

	for name, job := range def.Jobs {
		if job.Name != name {
			return invalid(name, 0, "job is stored under a different name '%s'", job.Name)
		}
	}

	if err := checkDependencies(def); err != nil {
		return err
	}

	return checkCycles(def)
}

func (d *document) toDefinition(jobs *yaml.Node) (*models.WorkflowDefinition, error) {
	def := &models.WorkflowDefinition{
		Name:     d.Name,
		Triggers: []models.TriggerKind(d.On),
		Env:      d.Env,
		Jobs:     make(map[string]*models.JobSpec, len(jobs.Content)/2),
	}

	if def.Name == "" {
		def.Name = defaultName
	}

	for i := 0; i < len(jobs.Content); i += 2 {
		key, value := jobs.Content[i], jobs.Content[i+1]

		if value.Kind != yaml.MappingNode {
			return nil, invalid(key.Value, key.Line, "job must be a mapping")
		}

		var job jobDocument

		if err := value.Decode(&job); err != nil {
			return nil, invalid(key.Value, key.Line, "%v", err)
		}

		spec, err := job.toSpec(key.Value, key.Line)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, verr
			}

			return nil, invalid(key.Value, key.Line, "%v", err)
		}

		def.Jobs[key.Value] = spec
	}

	return def, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}

	return nil
}

func checkDuplicateJobs(jobs *yaml.Node) error {
	seen := make(map[string]int, len(jobs.Content)/2)

	for i := 0; i < len(jobs.Content); i += 2 {
		key := jobs.Content[i]

		if first, ok := seen[key.Value]; ok {
			return &ValidationError{
				Err:     ErrDuplicateJobName,
				Job:     key.Value,
				Line:    key.Line,
				Message: fmt.Sprintf("first defined at line %d", first),
			}
		}

		seen[key.Value] = key.Line
	}

	return nil
}
