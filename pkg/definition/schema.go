package definition

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var stringOrList = map[string]any{
	"oneOf": []any{
		map[string]any{"type": "string"},
		map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

var scalarMap = map[string]any{
	"type": "object",
	"additionalProperties": map[string]any{
		"type": []string{"string", "number", "boolean"},
	},
}

var stepSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":  map[string]any{"type": "string"},
		"uses":  map[string]any{"type": "string", "minLength": 1},
		"run":   map[string]any{"type": "string", "minLength": 1},
		"shell": map[string]any{"type": "string"},
		"with":  scalarMap,
	},
	"anyOf": []any{
		map[string]any{"required": []string{"uses"}},
		map[string]any{"required": []string{"run"}},
	},
}

var jobSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"needs":   stringOrList,
		"runs-on": stringOrList,
		"env":     scalarMap,
		"timeout": map[string]any{"type": "string"},
		"steps": map[string]any{
			"type":  "array",
			"items": stepSchema,
		},
	},
}

// documentSchema describes the accepted pipeline document shape.
var documentSchema = map[string]any{
	"type":     "object",
	"required": []string{"jobs"},
	"properties": map[string]any{
		"name": map[string]any{"type": "string"},
		"on": map[string]any{
			"oneOf": []any{
				map[string]any{"type": "string"},
				map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				map[string]any{"type": "object"},
			},
		},
		"env": scalarMap,
		"jobs": map[string]any{
			"type":                 "object",
			"minProperties":        1,
			"additionalProperties": jobSchema,
		},
	},
}

func validateSchema(doc map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(documentSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("%s", strings.Join(messages, "; "))
}
