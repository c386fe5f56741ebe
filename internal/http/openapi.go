package http

import (
	"net/http"
	"strconv"
)

type operation struct {
	Summary  string              `json:"summary"`
	Tags     []string            `json:"tags,omitempty"`
	Security []map[string][]any  `json:"security,omitempty"`
	Params   []map[string]any    `json:"parameters,omitempty"`
	Resp     map[string]response `json:"responses"`
}

type response struct {
	Description string `json:"description"`
}

var bearer = []map[string][]any{{"bearerAuth": {}}}

var idParam = map[string]any{
	"name": "id", "in": "path", "required": true,
	"schema": map[string]string{"type": "integer", "format": "int64"},
}

func uuidParam(name string) map[string]any {
	return map[string]any{
		"name": name, "in": "path", "required": true,
		"schema": map[string]string{"type": "string", "format": "uuid"},
	}
}

func withParams(o operation, params ...map[string]any) operation {
	o.Params = params
	return o
}

func op(summary, tag string, secured bool, codes ...int) operation {
	o := operation{Summary: summary, Resp: map[string]response{}}
	if tag != "" {
		o.Tags = []string{tag}
	}
	if secured {
		o.Security = bearer
	}
	for _, c := range codes {
		o.Resp[strconv.Itoa(c)] = response{Description: http.StatusText(c)}
	}
	return o
}

// openAPIDocument describes the mounted routes. Catalogue paths are derived
// from the registered resources so the document follows the router.
func openAPIDocument(resources []Resource) map[string]any {
	paths := map[string]map[string]operation{
		"/auth/register": {"post": op("Register a user", "auth", false, 201, 400, 409, 429)},
		"/auth/login":    {"post": op("Log in", "auth", false, 200, 401, 429)},
		"/auth/refresh":  {"post": op("Rotate the refresh cookie", "auth", false, 200, 401)},
		"/auth/logout":   {"post": op("Revoke the refresh cookie", "auth", false, 200)},
		"/auth/me": {
			"get": op("Current user", "auth", true, 200, 401),
			"put": op("Update profile", "auth", true, 200, 400, 409),
		},
		"/auth/me/password": {"put": op("Change own password", "auth", true, 200, 400, 401)},
		"/auth/permissions": {"get": op("Effective permissions", "auth", true, 200, 401)},
		"/users":            {"get": op("List users", "users", true, 200, 400, 403)},
		"/users/{id}":       {"get": withParams(op("Get a user", "users", true, 200, 400, 404), uuidParam("id"))},
		"/users/bulk/activate": {
			"post": op("Activate users", "users", true, 200, 400, 403),
		},
		"/users/bulk/deactivate": {
			"post": op("Deactivate users and revoke their sessions", "users", true, 200, 400, 403),
		},
		"/users/{id}/roles": {
			"post": withParams(op("Grant roles", "users", true, 200, 400, 403, 404), uuidParam("id")),
		},
		"/users/{id}/roles/{role}": {
			"delete": withParams(op("Revoke a role", "users", true, 200, 403, 404, 422), uuidParam("id"),
				map[string]any{"name": "role", "in": "path", "required": true, "schema": map[string]string{"type": "string"}}),
		},
		"/files": {"post": op("Upload an encrypted file", "files", true, 201, 400, 413)},
		"/files/{id}": {
			"get":    op("Download and decrypt", "files", true, 200, 403, 404),
			"delete": op("Soft delete", "files", true, 200, 403, 404),
		},
		"/files/{id}/metadata": {"get": op("File metadata", "files", true, 200, 404)},
	}

	for _, res := range resources {
		base := "/api/" + res.Path
		tag := res.Path
		withID := func(o operation) operation { return withParams(o, idParam) }
		paths[base] = map[string]operation{
			"get":  op("List "+tag, tag, true, 200, 400),
			"post": op("Create", tag, true, 201, 400, 409, 422),
		}
		paths[base+"/{id}"] = map[string]operation{
			"get":    withID(op("Get by id", tag, true, 200, 304, 404)),
			"put":    withID(op("Update", tag, true, 200, 400, 404, 409, 422)),
			"delete": withID(op("Delete", tag, true, 200, 404, 422)),
		}
		paths[base+"/stats"] = map[string]operation{"get": op("Counts", tag, true, 200)}
		paths[base+"/dropdown"] = map[string]operation{"get": op("Options for selects", tag, true, 200)}
		paths[base+"/bulk"] = map[string]operation{
			"post":   op("Bulk create", tag, true, 200, 400),
			"delete": op("Bulk delete", tag, true, 200, 400),
		}
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]string{"title": "Aegis API", "version": "1.0.0"},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
	}
}
