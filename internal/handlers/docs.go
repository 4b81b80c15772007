package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the Metabolism Platform API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	paginationParams := []map[string]interface{}{
		{
			"name":        "page",
			"in":          "query",
			"description": "Page number (default: 1)",
			"required":    false,
			"schema":      map[string]interface{}{"type": "integer", "default": 1},
		},
		{
			"name":        "limit",
			"in":          "query",
			"description": "Records per page (default: 100)",
			"required":    false,
			"schema":      map[string]interface{}{"type": "integer", "default": 100},
		},
	}

	observationParams := []map[string]interface{}{
		{
			"name":        "site_id",
			"in":          "query",
			"description": "Filter by monitoring site ID",
			"required":    false,
			"schema":      map[string]string{"type": "string"},
		},
		{
			"name":        "year",
			"in":          "query",
			"description": "Filter by exact year",
			"required":    false,
			"schema":      map[string]string{"type": "integer"},
		},
		{
			"name":        "start_year",
			"in":          "query",
			"description": "Filter by first year (inclusive)",
			"required":    false,
			"schema":      map[string]string{"type": "integer"},
		},
		{
			"name":        "end_year",
			"in":          "query",
			"description": "Filter by last year (inclusive)",
			"required":    false,
			"schema":      map[string]string{"type": "integer"},
		},
	}

	observationSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":         map[string]string{"type": "integer"},
			"site_id":    map[string]string{"type": "string"},
			"year":       map[string]string{"type": "integer"},
			"gpp_ann":    map[string]string{"type": "number"},
			"er_ann":     map[string]string{"type": "number"},
			"disch_ar1":  map[string]string{"type": "number"},
			"disch_cv":   map[string]string{"type": "number"},
			"disch_amp":  map[string]string{"type": "number"},
			"disch_skew": map[string]string{"type": "number"},
			"npp_ann":    map[string]string{"type": "number"},
			"area_km2":   map[string]string{"type": "number"},
			"width_m":    map[string]string{"type": "number"},
			"temp_c":     map[string]string{"type": "number"},
			"light_par":  map[string]string{"type": "number"},
			"latitude":   map[string]string{"type": "number"},
			"created_at": map[string]string{"type": "string", "format": "date-time"},
		},
	}

	variablesSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"site_id": map[string]string{"type": "string"},
			"year":    map[string]string{"type": "integer"},
			"gpp":     map[string]string{"type": "number"},
			"er":      map[string]string{"type": "number"},
			"ar1":     map[string]string{"type": "number"},
			"npp_log": map[string]string{"type": "number"},
			"npp":     map[string]string{"type": "number"},
			"area":    map[string]string{"type": "number"},
			"width":   map[string]string{"type": "number"},
			"nep":     map[string]string{"type": "number"},
			"temp_k":  map[string]string{"type": "number"},
			"temp":    map[string]string{"type": "number"},
			"light":   map[string]string{"type": "number"},
			"cv":      map[string]string{"type": "number"},
			"amp":     map[string]string{"type": "number"},
			"skew":    map[string]string{"type": "number"},
			"lat":     map[string]string{"type": "number"},
		},
	}

	paginatedSchema := func(items map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"data": map[string]interface{}{
					"type":  "array",
					"items": items,
				},
				"total":       map[string]string{"type": "integer"},
				"page":        map[string]string{"type": "integer"},
				"limit":       map[string]string{"type": "integer"},
				"total_pages": map[string]string{"type": "integer"},
			},
		}
	}

	errorSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"error":   map[string]string{"type": "string"},
			"message": map[string]string{"type": "string"},
			"code":    map[string]string{"type": "integer"},
		},
	}

	jsonResponse := func(description string, schema map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"description": description,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": schema,
				},
			},
		}
	}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Metabolism Platform API",
			"description": "River metabolism analysis platform: annual metabolism observations, deterministic variable transforms, and structural equation model comparison",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Metabolism Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/observations": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get metabolism observations",
					"description": "Retrieve site-year observations with filtering and pagination",
					"parameters":  append(observationParams, paginationParams...),
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", paginatedSchema(observationSchema)),
					},
				},
			},
			"/api/observations/transformed": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get transformed model variables",
					"description": "Retrieve the derived model variables (log, logit, and Arrhenius transforms) for matching observations",
					"parameters":  observationParams,
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", map[string]interface{}{
							"type":  "array",
							"items": variablesSchema,
						}),
						"422": jsonResponse("An observation violates a domain constraint", errorSchema),
					},
				},
			},
			"/api/sites": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get monitoring sites",
					"description": "Retrieve monitored river reaches with pagination",
					"parameters":  paginationParams,
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", paginatedSchema(map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"site_id":  map[string]string{"type": "string"},
								"name":     map[string]string{"type": "string"},
								"latitude": map[string]string{"type": "number"},
							},
						})),
					},
				},
			},
			"/api/compare": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Run a model comparison",
					"description": "Fit an ordered set of candidate structural equation models against the selected dataset. Results are reported per candidate in submission order; the procedure never selects a winner.",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"label":      map[string]string{"type": "string"},
										"site_id":    map[string]string{"type": "string"},
										"start_year": map[string]string{"type": "integer"},
										"end_year":   map[string]string{"type": "integer"},
										"candidates": map[string]interface{}{
											"type": "array",
											"items": map[string]interface{}{
												"type": "object",
												"properties": map[string]interface{}{
													"name": map[string]string{"type": "string"},
													"equations": map[string]interface{}{
														"type":  "array",
														"items": map[string]string{"type": "string"},
													},
												},
											},
										},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Comparison report with one entry per candidate", map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"run_id":       map[string]string{"type": "string"},
								"label":        map[string]string{"type": "string"},
								"dataset_rows": map[string]string{"type": "integer"},
								"candidates": map[string]interface{}{
									"type": "array",
									"items": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"position":   map[string]string{"type": "integer"},
											"model_name": map[string]string{"type": "string"},
											"status":     map[string]string{"type": "string"},
											"error":      map[string]string{"type": "string"},
										},
									},
								},
							},
						}),
						"400": jsonResponse("A candidate specification is malformed", errorSchema),
						"422": jsonResponse("The dataset violates a domain constraint", errorSchema),
					},
				},
			},
			"/api/runs": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "List comparison runs",
					"description": "Retrieve stored comparison runs, newest first",
					"parameters":  paginationParams,
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", paginatedSchema(map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"run_id":          map[string]string{"type": "string"},
								"label":           map[string]string{"type": "string"},
								"candidate_count": map[string]string{"type": "integer"},
								"dataset_rows":    map[string]string{"type": "integer"},
								"status":          map[string]string{"type": "string"},
							},
						})),
					},
				},
			},
			"/api/runs/{run_id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get a comparison run",
					"description": "Retrieve one run with every stored candidate result in submission order",
					"parameters": []map[string]interface{}{
						{
							"name":     "run_id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "string"},
						},
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"run":     map[string]interface{}{"type": "object"},
								"results": map[string]interface{}{"type": "array"},
							},
						}),
						"404": jsonResponse("Run not found", errorSchema),
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Check if the API and its storage are reachable",
					"responses": map[string]interface{}{
						"200": jsonResponse("API is healthy", map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"status": map[string]string{"type": "string"},
							},
						}),
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
