// Package provider re-exports the provider-agnostic model contract so
// orchestrator code can depend on one narrow import (internal/provider)
// instead of reaching into internal/model and internal/provider/<backend>
// separately.
package provider

import "github.com/durch/agneto/internal/model"

// Client is the provider-agnostic contract every backend adapter
// (anthropic, bedrock, openai) implements.
type Client = model.Client

// Request, Response, and Message are re-exported for callers that only need
// the data shapes, not the backend constructors.
type (
	Request  = model.Request
	Response = model.Response
	Message  = model.Message
)
