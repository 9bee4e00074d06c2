package api

import (
	"fmt"

	"github.com/mattjoyce/switchboard/internal/plugin"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for POST /execute whose
// action field enumerates every registered action.
func buildOpenAPIDoc(name string, entries []plugin.Entry) map[string]any {
	actions := make([]string, 0, len(entries))
	variants := make([]any, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
		variants = append(variants, buildActionSchema(e))
	}

	commandSchema := map[string]any{
		"type":     "object",
		"required": []string{"action"},
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": actions},
			"target": map[string]any{"type": []string{"string", "null"}},
			"params": map[string]any{"type": "object"},
		},
	}
	if len(variants) > 0 {
		commandSchema["oneOf"] = variants
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   fmt.Sprintf("%s gateway", name),
			"version": "1.0",
		},
		"paths": map[string]any{
			"/execute": map[string]any{
				"post": map[string]any{
					"operationId": "execute",
					"summary":     "Dispatch a command to the handler registered for its action",
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/Command"},
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Command dispatched; outcome in envelope status",
							"content": map[string]any{
								"application/json": map[string]any{
									"schema": map[string]any{"$ref": "#/components/schemas/Envelope"},
								},
							},
						},
						"400": map[string]any{"description": "Malformed command"},
						"401": map[string]any{"description": "Missing or invalid bearer token"},
						"403": map[string]any{"description": "Insufficient scope"},
					},
					"security": []any{map[string]any{"BearerAuth": []string{}}},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"Command": commandSchema,
				"Envelope": map[string]any{
					"type":     "object",
					"required": []string{"status"},
					"properties": map[string]any{
						"status":  map[string]any{"type": "string", "enum": []string{"success", "error", "ignored"}},
						"data":    map[string]any{},
						"message": map[string]any{"type": "string"},
					},
				},
			},
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// buildActionSchema pins the action field to one value and carries the
// handler's description.
func buildActionSchema(e plugin.Entry) map[string]any {
	summary := e.Description
	if summary == "" {
		summary = fmt.Sprintf("%s: %s", e.Source, e.Action)
	}
	return map[string]any{
		"title":       e.Action,
		"description": summary,
		"properties": map[string]any{
			"action": map[string]any{"const": e.Action},
		},
		"x-source": e.Source,
		"x-origin": e.Origin,
	}
}
