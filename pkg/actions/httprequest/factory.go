package httprequest

import (
	"github.com/dukex/pipewright/pkg/protocol"
)

// ActionFactory creates HTTP request actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "http"
}

func (*ActionFactory) Name() string {
	return "HTTP Request"
}

func (*ActionFactory) Description() string {
	return "Performs an HTTP request; the step fails unless the response is 2xx."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"description": "The URL to send the HTTP request to. $VARS are expanded from the job environment.",
				"examples": []string{
					"https://staging.example.com/healthz",
					"https://hooks.example.com/deploy/$PIPEWRIGHT_RUN_ID",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. $VARS are expanded.",
			},
			"timeout": map[string]any{
				"type":        "string",
				"description": "Per attempt timeout as a Go duration",
				"default":     "30s",
			},
			"retry_attempts": map[string]any{
				"type":    "string",
				"pattern": `^[1-9][0-9]*$`,
				"default": "1",
			},
			"retry_delay": map[string]any{
				"type":        "string",
				"description": "Delay between attempts as a Go duration",
				"examples":    []string{"500ms", "2s"},
			},
		},
		"patternProperties": map[string]any{
			`^header\..+$`: map[string]any{
				"type":        "string",
				"description": "Request header, for example header.Authorization",
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}

func (*ActionFactory) Create(params map[string]string) (protocol.Executable, error) {
	return NewAction(params)
}
