package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the spoolflow
// occupation workflow service.
func OpenAPISpec() map[string]interface{} {
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Spoolflow Occupation Workflow API",
			"description": "Manufacturing piping-spool occupation, union selection, and metrology workflow engine",
			"version":     "4.0.0",
		},
		"servers": []map[string]interface{}{
			{"url": "http://localhost:8080", "description": "Local development"},
		},
		"paths": openAPIPaths(),
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"WorkerHeaders": map[string]interface{}{
					"type":        "apiKey",
					"in":          "header",
					"name":        "X-Worker-Id",
					"description": "Worker identity, paired with X-Worker-Initials. Trusted upstream, not validated here.",
				},
			},
			"schemas": openAPISchemas(),
		},
		"security": []map[string]interface{}{
			{"WorkerHeaders": []string{}},
		},
		"tags": []map[string]interface{}{
			{"name": "Occupation v4", "description": "Per-union occupation workflow"},
			{"name": "Occupation v3", "description": "Legacy spool-granularity occupation"},
			{"name": "Uniones", "description": "Union availability and metrics queries"},
			{"name": "Dashboard", "description": "Live event stream"},
			{"name": "Health", "description": "Service health checks"},
		},
	}
}

func openAPIPaths() map[string]interface{} {
	errorResponses := map[string]interface{}{
		"400": map[string]interface{}{"description": "Invalid state transition or wrong spool version"},
		"401": map[string]interface{}{"description": "Missing worker identity headers"},
		"403": map[string]interface{}{"description": "Not authorized — worker does not hold the lock, or ARM prerequisite unmet"},
		"404": map[string]interface{}{"description": "Spool not found"},
		"409": map[string]interface{}{"description": "Spool occupied, version conflict, or race condition on union selection"},
		"422": map[string]interface{}{"description": "Field-level validation failure"},
		"503": map[string]interface{}{"description": "Tabular store unavailable"},
	}

	return map[string]interface{}{
		"/v4/occupation/iniciar": map[string]interface{}{
			"post": map[string]interface{}{
				"tags": []string{"Occupation v4"}, "summary": "Acquire occupation of a per-union spool",
				"requestBody": map[string]interface{}{"required": true, "content": map[string]interface{}{
					"application/json": map[string]interface{}{"schema": map[string]interface{}{"$ref": "#/components/schemas/IniciarRequest"}},
				}},
				"responses": errorResponses,
			},
		},
		"/v4/occupation/finalizar": map[string]interface{}{
			"post": map[string]interface{}{
				"tags": []string{"Occupation v4"}, "summary": "Run the FINALIZAR union-selection algorithm",
				"requestBody": map[string]interface{}{"required": true, "content": map[string]interface{}{
					"application/json": map[string]interface{}{"schema": map[string]interface{}{"$ref": "#/components/schemas/FinalizarRequest"}},
				}},
				"responses": errorResponses,
			},
		},
		"/v4/uniones/{tag}/disponibles": map[string]interface{}{
			"get": map[string]interface{}{
				"tags": []string{"Uniones"}, "summary": "List unions available for an operation",
				"parameters": []map[string]interface{}{
					{"name": "tag", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
					{"name": "operacion", "in": "query", "required": true, "schema": map[string]interface{}{"type": "string", "enum": []string{"ARM", "SOLD"}}},
				},
				"responses": errorResponses,
			},
		},
		"/v4/uniones/{tag}/metricas": map[string]interface{}{
			"get": map[string]interface{}{
				"tags": []string{"Uniones"}, "summary": "Aggregate completion metrics for a spool",
				"parameters": []map[string]interface{}{
					{"name": "tag", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
				},
				"responses": errorResponses,
			},
		},
		"/v3/occupation/tomar": map[string]interface{}{
			"post": map[string]interface{}{"tags": []string{"Occupation v3"}, "summary": "Occupy a legacy spool", "responses": errorResponses},
		},
		"/v3/occupation/pausar": map[string]interface{}{
			"post": map[string]interface{}{"tags": []string{"Occupation v3"}, "summary": "Release a legacy spool, partial", "responses": errorResponses},
		},
		"/v3/occupation/completar": map[string]interface{}{
			"post": map[string]interface{}{"tags": []string{"Occupation v3"}, "summary": "Release a legacy spool, complete", "responses": errorResponses},
		},
		"/v4/dashboard/stream": map[string]interface{}{
			"get": map[string]interface{}{"tags": []string{"Dashboard"}, "summary": "SSE subscription to the live event bus", "responses": map[string]interface{}{
				"200": map[string]interface{}{"description": "text/event-stream of occupation events"},
			}},
		},
		"/healthz": map[string]interface{}{
			"get": map[string]interface{}{"tags": []string{"Health"}, "summary": "Liveness probe", "responses": map[string]interface{}{"200": map[string]interface{}{"description": "ok"}}},
		},
	}
}

func openAPISchemas() map[string]interface{} {
	return map[string]interface{}{
		"IniciarRequest": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tag_spool": map[string]string{"type": "string"},
				"operacion": map[string]interface{}{"type": "string", "enum": []string{"ARM", "SOLD"}},
			},
			"required": []string{"tag_spool", "operacion"},
		},
		"FinalizarRequest": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tag_spool":    map[string]string{"type": "string"},
				"operacion":    map[string]interface{}{"type": "string", "enum": []string{"ARM", "SOLD"}},
				"selected_ids": map[string]interface{}{"type": "array", "items": map[string]string{"type": "integer"}},
			},
			"required": []string{"tag_spool", "operacion", "selected_ids"},
		},
		"FinalizarResponse": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tag_spool":            map[string]string{"type": "string"},
				"action":               map[string]interface{}{"type": "string", "enum": []string{"COMPLETAR", "PAUSAR", "CANCELADO"}},
				"unions_processed":     map[string]string{"type": "integer"},
				"pulgadas":             map[string]string{"type": "number"},
				"metrologia_triggered": map[string]string{"type": "boolean"},
				"audit_degraded":       map[string]string{"type": "boolean"},
			},
		},
	}
}

// OpenAPIHandler serves the OpenAPI spec at /openapi.json.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := OpenAPISpec()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(spec)
	}
}

// SwaggerUIHandler serves a minimal Swagger UI page.
func SwaggerUIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Spoolflow API</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
    SwaggerUI({
        url: '/openapi.json',
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
        layout: "BaseLayout"
    });
    </script>
</body>
</html>`
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}
}
