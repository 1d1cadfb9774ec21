//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

const openAPITemplate = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "description": "{{.Description}}", "version": "{{.Version}}"},
  "basePath": "{{.BasePath}}",
  "schemes": {{ marshal .Schemes }},
  "paths": {
    "/status":   {"get":  {"summary": "Session status", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
    "/models":   {"get":  {"summary": "Model files found in the models directory", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
    "/messages": {
      "get":  {"summary": "Conversation log", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}},
      "post": {"summary": "Send a user message and start the reply", "consumes": ["application/json"],
               "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"type": "object", "properties": {"text": {"type": "string"}}}}],
               "responses": {"202": {"description": "Accepted"}, "400": {"description": "Empty input"}, "409": {"description": "Busy"}, "503": {"description": "Not ready"}}}
    },
    "/stop":  {"post": {"summary": "Cancel the reply in flight", "responses": {"204": {"description": "No Content"}}}},
    "/clear": {"post": {"summary": "Discard the conversation log", "responses": {"204": {"description": "No Content"}}}},
    "/load":  {"post": {"summary": "Load (or swap) the model", "consumes": ["application/json"],
               "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"type": "object", "properties": {"path": {"type": "string"}, "model": {"type": "string"}}}}],
               "responses": {"200": {"description": "OK"}, "404": {"description": "Model not found"}, "409": {"description": "Busy"}, "422": {"description": "Load failed"}}}},
    "/events": {"get": {"summary": "Stream session and conversation events", "produces": ["application/x-ndjson"], "responses": {"200": {"description": "OK"}}}}
  }
}`

// SwaggerInfo is served at /swagger/doc.json.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "chatmate API",
	Description:      "HTTP surface of a local LLM chat session.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  openAPITemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
