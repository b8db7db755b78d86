package openapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation describes one API endpoint in the generated document.
type Operation struct {
	Method      string
	Path        string
	ID          string
	Summary     string
	Tag         string
	Role        string
	RequestRef  string
	ResponseRef string
	Paginated   bool
	Errors      []int
}

// Generator builds an OpenAPI 3.0 spec for the diagnosis API.
type Generator struct {
	version string
	baseURL string
	ops     []Operation
}

// NewGenerator creates a generator preloaded with the diagnosis API operations.
func NewGenerator(version, baseURL string) *Generator {
	return &Generator{version: version, baseURL: baseURL, ops: DefaultOperations()}
}

// DefaultOperations lists the routes served under /api/v1.
func DefaultOperations() []Operation {
	queryErrors := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable}
	return []Operation{
		{
			Method: http.MethodPost, Path: "/api/v1/similarity", ID: "scoreSimilarity",
			Summary: "Score two symptom profiles", Tag: "Matching", Role: "clinician",
			RequestRef: "SimilarityRequest", ResponseRef: "SimilarityScore",
			Errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
		},
		{
			Method: http.MethodPost, Path: "/api/v1/rankings", ID: "rankPopulation",
			Summary: "Rank the population against a query profile", Tag: "Matching", Role: "clinician",
			RequestRef: "QueryRequest", ResponseRef: "RankedPatient", Paginated: true,
			Errors: queryErrors,
		},
		{
			Method: http.MethodPost, Path: "/api/v1/matches", ID: "topMatches",
			Summary: "Select the best matching patients", Tag: "Matching", Role: "clinician",
			RequestRef: "QueryRequest", ResponseRef: "Matches",
			Errors: queryErrors,
		},
		{
			Method: http.MethodPost, Path: "/api/v1/diagnostic-counts", ID: "countDiagnoses",
			Summary: "Aggregate diagnoses over a patient set", Tag: "Diagnosis", Role: "clinician",
			RequestRef: "CountRequest", ResponseRef: "Frequencies",
			Errors: append(queryErrors, http.StatusUnprocessableEntity),
		},
		{
			Method: http.MethodPost, Path: "/api/v1/diagnoses", ID: "diagnose",
			Summary: "Estimate diagnosis frequencies for a query profile", Tag: "Diagnosis", Role: "clinician",
			RequestRef: "QueryRequest", ResponseRef: "DiagnosisResult",
			Errors: append(queryErrors, http.StatusUnprocessableEntity),
		},
		{
			Method: http.MethodGet, Path: "/api/v1/population", ID: "populationStats",
			Summary: "Describe the loaded population", Tag: "Population", Role: "clinician",
			ResponseRef: "PopulationStats",
			Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable},
		},
		{
			Method: http.MethodPost, Path: "/api/v1/population/reload", ID: "reloadPopulation",
			Summary: "Reload the population from its source", Tag: "Population", Role: "admin",
			ResponseRef: "PopulationStats",
			Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadGateway},
		},
	}
}

// Operations returns the operations the generator documents.
func (g *Generator) Operations() []Operation {
	return g.ops
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})
	for _, op := range g.ops {
		item, ok := paths[op.Path].(map[string]interface{})
		if !ok {
			item = make(map[string]interface{})
			paths[op.Path] = item
		}
		item[strings.ToLower(op.Method)] = g.buildOperation(op)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "dxmatch API",
			"version":     g.version,
			"description": "Symptom-similarity diagnosis estimation",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		},
	}
}

func (g *Generator) buildOperation(op Operation) map[string]interface{} {
	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": op.ID,
		"tags":        []string{op.Tag},
		"security":    []map[string][]string{{"bearerAuth": {}}},
	}
	if op.Role != "" {
		out["x-required-role"] = op.Role
	}
	if op.RequestRef != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": schemaRef(op.RequestRef),
				},
			},
		}
	}

	responses := map[string]interface{}{}
	if op.Paginated {
		out["parameters"] = paginationParameters()
		responses["200"] = buildResponse("Success", map[string]interface{}{
			"allOf": []map[string]interface{}{
				schemaRef("Page"),
				{
					"type": "object",
					"properties": map[string]interface{}{
						"data": map[string]interface{}{"type": "array", "items": schemaRef(op.ResponseRef)},
					},
				},
			},
		})
	} else {
		responses["200"] = buildResponse("Success", schemaRef(op.ResponseRef))
	}
	for _, status := range op.Errors {
		responses[strconv.Itoa(status)] = buildResponse(http.StatusText(status), schemaRef("Error"))
	}
	out["responses"] = responses
	return out
}

func schemaRef(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func buildResponse(description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": schema,
			},
		},
	}
}

func paginationParameters() []map[string]interface{} {
	return []map[string]interface{}{
		{"name": "limit", "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100, "default": 20}},
		{"name": "offset", "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 0, "default": 0}},
	}
}

func stringArray() map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}}
}

func patientIDArray() map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]string{"type": "integer", "format": "int64"}}
}

func frequencyMap() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
	}
}

func buildComponentSchemas() map[string]interface{} {
	topN := map[string]interface{}{"type": "integer", "minimum": 0, "description": "Number of best matches; defaults to the server's DEFAULT_TOP_N"}
	return map[string]interface{}{
		"SymptomProfile": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"present": stringArray(),
				"absent":  stringArray(),
			},
		},
		"SimilarityRequest": map[string]interface{}{
			"type":     "object",
			"required": []string{"a", "b"},
			"properties": map[string]interface{}{
				"a": schemaRef("SymptomProfile"),
				"b": schemaRef("SymptomProfile"),
			},
		},
		"SimilarityScore": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"score": map[string]string{"type": "integer"}},
		},
		"QueryRequest": map[string]interface{}{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]interface{}{
				"query": schemaRef("SymptomProfile"),
				"n":     topN,
			},
		},
		"CountRequest": map[string]interface{}{
			"type":       "object",
			"required":   []string{"patient_ids"},
			"properties": map[string]interface{}{"patient_ids": patientIDArray()},
		},
		"RankedPatient": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"patient_id": map[string]string{"type": "integer", "format": "int64"},
				"score":      map[string]string{"type": "integer"},
			},
		},
		"Matches": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"patient_ids": patientIDArray()},
		},
		"Frequencies": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"frequencies": frequencyMap()},
		},
		"DiagnosisResult": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":          map[string]string{"type": "string", "format": "uuid"},
				"n":           map[string]string{"type": "integer"},
				"matches":     map[string]interface{}{"type": "array", "items": schemaRef("RankedPatient")},
				"frequencies": frequencyMap(),
			},
		},
		"PopulationStats": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"patients":  map[string]string{"type": "integer"},
				"diagnosed": map[string]string{"type": "integer"},
				"diagnoses": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": map[string]string{"type": "integer"},
				},
				"loaded_at": map[string]string{"type": "string", "format": "date-time"},
			},
		},
		"Page": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"total":           map[string]string{"type": "integer"},
				"limit":           map[string]string{"type": "integer"},
				"offset":          map[string]string{"type": "integer"},
				"has_more":        map[string]string{"type": "boolean"},
				"next_offset":     map[string]string{"type": "integer"},
				"previous_offset": map[string]string{"type": "integer"},
			},
		},
		"Error": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"message": map[string]string{"type": "string"}},
		},
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>dxmatch API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
