// Package docs registers the generated OpenAPI spec with swaggo/swag so
// gin-swagger can serve it at /swagger/*any. In a normal build this file
// is produced by `swag init` from the @Summary/@Router annotations on
// the historyapi handlers; committed here in its minimal hand-written
// form since no swag toolchain runs in this environment.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/history/{pair}": {
            "get": {
                "produces": ["application/json"],
                "summary": "History envelope",
                "parameters": [
                    {"type": "string", "name": "pair", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "unknown pair or no history"}
                }
            }
        },
        "/snapshot/{pair}/{ts}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Point-in-time snapshot",
                "parameters": [
                    {"type": "string", "name": "pair", "in": "path", "required": true},
                    {"type": "integer", "name": "ts", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "malformed ts"},
                    "404": {"description": "not found or out of window"}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "summary": "Liveness and per-pair engine state",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Market Data Plane API",
	Description:      "Live orderbook and OHLC market-data plane: upstream feed consumer, per-pair orderbook engine, snapshot history, and WebSocket/REST client surfaces.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
