package handlers

import (
	"encoding/json"
	"fmt"
	"os"

	"simdoc/internal/config"

	"github.com/spf13/cobra"
)

// NewOpenAPICmd creates the openapi command for exporting the API schema
func NewOpenAPICmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Export the OpenAPI 3 schema of the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			doc := openAPIDocument(cfg)
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if output == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			fmt.Printf("Schema written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the schema to a file instead of stdout")

	return cmd
}

// openAPIDocument builds the schema describing the v1 surface. Kept as plain
// maps; the document is static apart from the configured prefix and version.
func openAPIDocument(cfg *config.Config) map[string]any {
	prefix := cfg.API.V1Prefix

	errorSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"error": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":    map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
				},
			},
			"trace_id": map[string]any{"type": "string"},
		},
	}
	jsonResponse := func(description string) map[string]any {
		return map[string]any{
			"description": description,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"type": "object"},
				},
			},
		}
	}
	errorResponse := func(description string) map[string]any {
		return map[string]any{
			"description": description,
			"content": map[string]any{
				"application/json": map[string]any{"schema": errorSchema},
			},
		}
	}
	idParam := map[string]any{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   cfg.App.Name,
			"version": cfg.App.Version,
		},
		"paths": map[string]any{
			prefix + "/articles/": map[string]any{
				"post": map[string]any{
					"summary": "Submit an article for clustering",
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/ArticleCreate"},
							},
						},
					},
					"responses": map[string]any{
						"200": jsonResponse("Accepted"),
						"400": errorResponse("Validation failure"),
						"500": errorResponse("Internal error"),
					},
				},
			},
			prefix + "/articles/{id}": map[string]any{
				"get": map[string]any{
					"summary":    "Get an article and its cluster",
					"parameters": []any{idParam},
					"responses": map[string]any{
						"200": jsonResponse("Article with optional cluster"),
						"404": errorResponse("Article not found"),
					},
				},
			},
			prefix + "/articles/{id}/similar": map[string]any{
				"get": map[string]any{
					"summary":    "List other articles in the same cluster",
					"parameters": []any{idParam},
					"responses": map[string]any{
						"200": jsonResponse("Similar articles"),
						"404": errorResponse("Processing not complete"),
					},
				},
			},
			prefix + "/articles/recheck": map[string]any{
				"post": map[string]any{
					"summary": "Re-run clustering for a batch of articles",
					"responses": map[string]any{
						"200": jsonResponse("Batch accepted"),
						"400": errorResponse("Validation failure"),
					},
				},
			},
			prefix + "/clusters/{id}": map[string]any{
				"get": map[string]any{
					"summary":    "Get a cluster, optionally with member articles",
					"parameters": []any{idParam},
					"responses": map[string]any{
						"200": jsonResponse("Cluster"),
						"404": errorResponse("Cluster not found"),
					},
				},
			},
			prefix + "/clusters/": map[string]any{
				"get": map[string]any{
					"summary": "Search articles by metadata",
					"responses": map[string]any{
						"200": jsonResponse("Paginated results"),
						"400": errorResponse("Validation failure"),
					},
				},
			},
			prefix + "/system/health": map[string]any{
				"get": map[string]any{
					"summary": "Component health",
					"responses": map[string]any{
						"200": jsonResponse("Health report"),
					},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"ArticleCreate": map[string]any{
					"type":     "object",
					"required": []any{"article_id", "title", "content"},
					"properties": map[string]any{
						"article_id":   map[string]any{"type": "string"},
						"title":        map[string]any{"type": "string"},
						"content":      map[string]any{"type": "string", "maxLength": 200000},
						"publish_time": map[string]any{"type": "string", "format": "date-time"},
						"source":       map[string]any{"type": "string"},
						"state":        map[string]any{"type": "integer", "minimum": 0, "maximum": 2},
						"top":          map[string]any{"type": "integer", "minimum": 0, "maximum": 1},
						"tags":         map[string]any{"type": "array"},
						"topic":        map[string]any{"type": "array"},
					},
				},
				"Error": errorSchema,
			},
		},
	}
}
