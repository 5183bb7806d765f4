// Package swagger registers the OpenAPI document of the /api/v1 routes with
// swag so http-swagger can serve it. Regenerate with
// `swag init -g internal/api/main_annotations.go -o docs/swagger`.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/register": {
            "post": {
                "description": "Validates the passwords locally, then registers with the identity provider.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Create an account",
                "parameters": [
                    {"type": "string", "description": "Client flow id", "name": "X-Flow-ID", "in": "header"},
                    {"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/api.AuthResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.errorBody"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.errorBody"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/api.errorBody"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Sign in",
                "parameters": [
                    {"type": "string", "description": "Client flow id", "name": "X-Flow-ID", "in": "header"},
                    {"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.AuthResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.errorBody"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.errorBody"}}
                }
            }
        },
        "/auth/password-reset": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Send a password reset email",
                "parameters": [
                    {"description": "Account email", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.PasswordResetRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/api.AuthResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/api.errorBody"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/api.errorBody"}}
                }
            }
        },
        "/auth/verify": {
            "post": {
                "description": "Checks a provider-issued ID token and returns its claims.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Verify an ID token",
                "parameters": [
                    {"description": "ID token", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.VerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/identity.Claims"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.errorBody"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "security": [{"BearerToken": []}],
                "tags": ["auth"],
                "summary": "Sign out",
                "responses": {
                    "204": {"description": "No Content"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.errorBody"}}
                }
            }
        },
        "/session": {
            "get": {
                "security": [{"BearerToken": []}],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Current session",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.CurrentSessionResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.errorBody"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.errorBody"}}
                }
            }
        }
    },
    "definitions": {
        "api.RegisterRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "confirm_password": {"type": "string"}
            }
        },
        "api.LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "api.PasswordResetRequest": {
            "type": "object",
            "properties": {"email": {"type": "string"}}
        },
        "api.VerifyRequest": {
            "type": "object",
            "properties": {"id_token": {"type": "string"}}
        },
        "api.FlowStateResponse": {
            "type": "object",
            "properties": {
                "mode": {"type": "string"},
                "status": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "api.NavigationResponse": {
            "type": "object",
            "properties": {
                "to": {"type": "string"},
                "after_ms": {"type": "integer"}
            }
        },
        "api.SessionResponse": {
            "type": "object",
            "properties": {
                "handle": {"type": "string"},
                "id_token": {"type": "string"},
                "expires_at": {"type": "string"},
                "identity": {"$ref": "#/definitions/identity.Identity"}
            }
        },
        "api.AuthResponse": {
            "type": "object",
            "properties": {
                "state": {"$ref": "#/definitions/api.FlowStateResponse"},
                "session": {"$ref": "#/definitions/api.SessionResponse"},
                "navigation": {"$ref": "#/definitions/api.NavigationResponse"}
            }
        },
        "api.CurrentSessionResponse": {
            "type": "object",
            "properties": {
                "handle": {"type": "string"},
                "identity": {"$ref": "#/definitions/identity.Identity"}
            }
        },
        "api.errorBody": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"}
            }
        },
        "identity.Identity": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "email": {"type": "string"}
            }
        },
        "identity.Claims": {
            "type": "object",
            "properties": {
                "identity_id": {"type": "string"},
                "email": {"type": "string"},
                "session_id": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerToken": {
            "description": "Type \"Bearer\" followed by a space and the session handle returned by login or register.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Vetric API",
	Description:      "Account API of the Vetric site. Sign in to obtain a session handle and send it as a Bearer token.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
