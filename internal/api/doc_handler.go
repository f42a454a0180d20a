package api

import (
	"dbviewer/internal/core"
	"dbviewer/internal/service"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type DocHandler struct {
	sessions *service.SessionManager
	tables   *service.TableService
	cookies  *SessionCookies
	log      logrus.FieldLogger
}

func NewDocHandler(sessions *service.SessionManager, tables *service.TableService, cookies *SessionCookies, log logrus.FieldLogger) *DocHandler {
	return &DocHandler{sessions: sessions, tables: tables, cookies: cookies, log: log}
}

func (h *DocHandler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	// Simple HTML to load Swagger UI
	html := `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>DB Viewer API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
        window.ui = SwaggerUIBundle({
            url: '/api/docs/openapi.json',
            dom_id: '#swagger-ui',
            withCredentials: true,
        });
    };
</script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

// GetOpenAPISpec describes the fixed API and, when the caller is connected,
// one row schema per table of the current database.
func (h *DocHandler) GetOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	schemas := map[string]interface{}{
		"Error": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"code":    map[string]interface{}{"type": "string", "enum": errorCodes()},
						"message": map[string]string{"type": "string"},
						"fields": map[string]interface{}{
							"type":                 "object",
							"additionalProperties": map[string]string{"type": "string"},
						},
					},
				},
			},
		},
		"Row": map[string]interface{}{"type": "object", "additionalProperties": true},
	}
	paths := staticPaths()

	if s := h.connected(r); s != nil {
		tables, err := h.tables.ListTables(r.Context(), s)
		if err != nil {
			h.log.WithError(err).Warn("docs: listing tables failed")
		}
		for _, table := range tables {
			schema, err := h.tables.GetSchema(r.Context(), s, table)
			if err != nil {
				h.log.WithError(err).WithField("table", table).Warn("docs: schema unavailable")
				continue
			}
			name := table + "Row"
			schemas[name] = rowSchema(schema)
			ref := map[string]string{"$ref": "#/components/schemas/" + name}
			paths[fmt.Sprintf("/api/tables/%s/rows", table)] = map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Create a row in " + table,
					"tags":    []string{s.Database()},
					"requestBody": map[string]interface{}{
						"required": true,
						"content":  map[string]interface{}{"application/json": map[string]interface{}{"schema": ref}},
					},
					"responses": map[string]interface{}{
						"201": jsonResponse("Created row", ref),
						"400": errorResponse("Validation failed"),
					},
				},
			}
		}
	}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "DB Viewer API",
			"version":     "1.0.0",
			"description": "Browse and edit PostgreSQL tables over a cookie-bound connection session.",
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": schemas,
			"securitySchemes": map[string]interface{}{
				"SessionCookie": map[string]interface{}{
					"type": "apiKey",
					"in":   "cookie",
					"name": cookieName,
				},
			},
		},
		"security": []map[string]interface{}{
			{"SessionCookie": []string{}},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}

func (h *DocHandler) connected(r *http.Request) *service.Session {
	id, ok := h.cookies.Peek(r)
	if !ok {
		return nil
	}
	s := h.sessions.Get(id)
	if s == nil || s.Status() != core.StatusConnected {
		return nil
	}
	return s
}

func rowSchema(schema *core.TableSchema) map[string]interface{} {
	properties := make(map[string]interface{}, len(schema.Columns))
	required := []string{}
	for _, col := range schema.Columns {
		prop := map[string]interface{}{"title": col.HeaderName, "nullable": col.IsNullable}
		switch col.DataType {
		case core.TypeInteger, core.TypeSmallint:
			prop["type"], prop["format"] = "integer", "int32"
		case core.TypeBigint:
			prop["type"], prop["format"] = "integer", "int64"
		case core.TypeNumeric:
			prop["type"], prop["format"] = "string", "decimal"
		case core.TypeBoolean:
			prop["type"] = "boolean"
		case core.TypeTimestamp:
			prop["type"], prop["format"] = "string", "date-time"
		case core.TypeDate:
			prop["type"], prop["format"] = "string", "date"
		case core.TypeUUID:
			prop["type"], prop["format"] = "string", "uuid"
		default:
			prop["type"] = "string"
		}
		if col.IsPrimary {
			prop["readOnly"] = col.HasDefault
		}
		properties[col.Name] = prop
		if !col.IsNullable && !col.HasDefault {
			required = append(required, col.Name)
		}
	}
	out := map[string]interface{}{"type": "object", "properties": properties}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func errorCodes() []core.Code {
	return []core.Code{
		core.CodeAuthenticationFailed, core.CodeHostUnreachable, core.CodeDatabaseNotFound,
		core.CodeSessionInvalid, core.CodeValidation, core.CodeNotFound, core.CodeUnknown, core.CodeRateLimited,
	}
}

func jsonResponse(description string, schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content":     map[string]interface{}{"application/json": map[string]interface{}{"schema": schema}},
	}
}

func errorResponse(description string) map[string]interface{} {
	return jsonResponse(description, map[string]string{"$ref": "#/components/schemas/Error"})
}

func staticPaths() map[string]interface{} {
	row := map[string]string{"$ref": "#/components/schemas/Row"}
	object := map[string]string{"type": "object"}
	tableParam := map[string]interface{}{"name": "table", "in": "path", "required": true, "schema": map[string]string{"type": "string"}}
	idParam := map[string]interface{}{"name": "id", "in": "path", "required": true, "schema": map[string]string{"type": "string"}}
	op := func(summary string, params []interface{}, ok map[string]interface{}) map[string]interface{} {
		o := map[string]interface{}{
			"summary": summary,
			"responses": map[string]interface{}{
				"200": ok,
				"401": errorResponse("Session invalid"),
			},
		}
		if len(params) > 0 {
			o["parameters"] = params
		}
		return o
	}

	return map[string]interface{}{
		"/api/connect": map[string]interface{}{
			"post": op("Connect with host, username, password and database", nil, jsonResponse("Session info", object)),
		},
		"/api/connect/direct": map[string]interface{}{
			"post": op("Connect with a postgres:// URL", nil, jsonResponse("Session info", object)),
		},
		"/api/session": map[string]interface{}{
			"get":    op("Session status, resuming a persisted session", nil, jsonResponse("Session info", object)),
			"delete": op("Disconnect", nil, jsonResponse("Disconnected", object)),
		},
		"/api/session/database": map[string]interface{}{
			"put": op("Switch database on the same host", nil, jsonResponse("Session info", object)),
		},
		"/api/tables": map[string]interface{}{
			"get": op("List tables", nil, jsonResponse("Table names", object)),
		},
		"/api/tables/{table}/schema": map[string]interface{}{
			"get": op("Table schema", []interface{}{tableParam}, jsonResponse("Schema", object)),
		},
		"/api/tables/{table}": map[string]interface{}{
			"get": op("Page of rows", []interface{}{
				tableParam,
				map[string]interface{}{"name": "page", "in": "query", "schema": map[string]interface{}{"type": "integer", "default": 0}},
				map[string]interface{}{"name": "pageSize", "in": "query", "schema": map[string]interface{}{"type": "integer", "default": core.DefaultPageSize}},
			}, jsonResponse("Page", object)),
		},
		"/api/tables/{table}/rows/{id}": map[string]interface{}{
			"get":    op("Get row", []interface{}{tableParam, idParam}, jsonResponse("Row", row)),
			"put":    op("Update row", []interface{}{tableParam, idParam}, jsonResponse("Updated row", row)),
			"delete": op("Delete row", []interface{}{tableParam, idParam}, map[string]interface{}{"description": "Deleted"}),
		},
		"/api/tables/{table}/rows/{id}/cells/{column}": map[string]interface{}{
			"put": op("Update one cell", []interface{}{tableParam, idParam,
				map[string]interface{}{"name": "column", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
			}, jsonResponse("Updated row", row)),
		},
		"/api/audit": map[string]interface{}{
			"get": op("Recent mutations of this session", nil, jsonResponse("Audit entries", object)),
		},
	}
}
