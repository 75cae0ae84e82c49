package openapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// Document builds the OpenAPI 3.1 description of the console API. The API
// surface is fixed, so the document is assembled from code rather than
// generated from storage.
func Document() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "ChronoCrypt Console API",
			Description: "Administrative console for time-sliced key access: requester and credential management, policies, key-access requests, and the audit trail.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: "/api/v1"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "http",
			Scheme:      "apikey",
			Description: "Authorization: ApiKey <keyId>.<secret>",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "http",
			Scheme:      "bearer",
			Description: "Admin session token from POST /system/admin/session",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
	doc.Components.Schemas["TimeRange"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"start_time", "end_time"},
			Properties: openapi3.Schemas{
				"start_time": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64", Description: "Unix seconds, inclusive"}},
				"end_time":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64", Description: "Unix seconds, inclusive"}},
			},
		},
	}

	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/system/setup", &openapi3.PathItem{
		Post: op("createFirstAdmin", "Create the first admin account. Returns 409 once any admin exists.", nil),
	})
	doc.Paths.Set("/system/admin/session", &openapi3.PathItem{
		Post:   op("login", "Exchange admin email and password for a bearer session token.", nil),
		Get:    op("checkSession", "Describe the current admin session.", nil),
		Delete: op("logout", "Invalidate the current session. Idempotent.", nil),
	})
	doc.Paths.Set("/system/admin", &openapi3.PathItem{
		Get:  op("listAdmins", "List admin accounts.", nil),
		Post: op("createAdmin", "Create an admin account.", nil),
	})

	doc.Paths.Set("/requesters", &openapi3.PathItem{
		Get:  op("listRequesters", "List requester identities.", nil),
		Post: op("createRequester", "Register a requester identity.", nil),
	})
	doc.Paths.Set("/requesters/{requesterId}", &openapi3.PathItem{
		Get:        op("getRequester", "Fetch one requester.", nil),
		Put:        op("updateRequester", "Update a requester. Disabling one invalidates all of its credentials.", nil),
		Delete:     op("deleteRequester", "Delete a requester and cascade its credentials. Audit events remain.", nil),
		Parameters: pathParam("requesterId"),
	})
	doc.Paths.Set("/requesters/{requesterId}/keys", &openapi3.PathItem{
		Get:        op("listKeys", "List a requester's credentials. Secret hashes are never returned.", nil),
		Post:       op("createKey", "Generate a credential. The plaintext secret appears only in this response.", nil),
		Parameters: pathParam("requesterId"),
	})
	doc.Paths.Set("/keys/{keyId}", &openapi3.PathItem{
		Delete:     op("revokeKey", "Revoke a credential by its public key identifier.", nil),
		Patch:      op("setKeyEnabled", "Enable or disable a credential.", nil),
		Parameters: pathParam("keyId"),
	})

	doc.Paths.Set("/policies", &openapi3.PathItem{
		Get:  op("listPolicies", "List policies ordered by priority.", nil),
		Post: op("createPolicy", "Create a policy.", nil),
	})
	doc.Paths.Set("/policies/{policyId}", &openapi3.PathItem{
		Get:        op("getPolicy", "Fetch one policy.", nil),
		Put:        op("updatePolicy", "Update a policy. Built-in policies keep their name and rule.", nil),
		Delete:     op("deletePolicy", "Delete a policy. Built-in policies return 409.", nil),
		Parameters: pathParam("policyId"),
	})

	doc.Paths.Set("/requests", &openapi3.PathItem{
		Post: op("submitRequest", "Request keys for a time range. Requires an ApiKey credential; the requester identity comes from it.", &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithJSONSchemaRef(&openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type:     &openapi3.Types{"object"},
					Required: []string{"start_time", "end_time"},
					Properties: openapi3.Schemas{
						"start_time": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
						"end_time":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
						"purpose":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"metadata":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
					},
				},
			}),
		}),
		Get: op("listRequests", "Reconstruct request statuses from the audit trail. Defaults to the last 30 days.", nil),
	})
	doc.Paths.Set("/requests/history", &openapi3.PathItem{
		Get: op("listRequestHistory", "List denormalized request history rows.", nil),
	})

	doc.Paths.Set("/audit", &openapi3.PathItem{
		Get: op("listAuditEvents", "List audit events. The actor filter matches actor or target.", nil),
	})
	doc.Paths.Set("/audit/statistics", &openapi3.PathItem{
		Get: op("auditStatistics", "Aggregate event counts and grant rate over a window.", nil),
	})

	return doc
}

func op(id, summary string, body *openapi3.RequestBodyRef) *openapi3.Operation {
	o := openapi3.NewOperation()
	o.OperationID = id
	o.Summary = summary
	o.RequestBody = body
	o.Responses = openapi3.NewResponses()
	o.Responses.Set("default", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Error").WithJSONSchemaRef(&openapi3.SchemaRef{
			Ref: "#/components/schemas/ErrorResponse",
		}),
	})
	return o
}

func pathParam(name string) openapi3.Parameters {
	p := openapi3.NewPathParameter(name)
	p.Schema = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
	p.Required = true
	return openapi3.Parameters{&openapi3.ParameterRef{Value: p}}
}

// Handler serves the document as JSON. The document is immutable, so it is
// marshaled once and cached.
func Handler() http.HandlerFunc {
	var (
		once sync.Once
		data []byte
		err  error
	)
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			data, err = json.Marshal(Document())
		})
		if err != nil {
			http.Error(w, "failed to render API description", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}
