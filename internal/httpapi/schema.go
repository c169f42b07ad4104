package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loqalabs/voice-agent/internal/protocol"
)

// processRequestSchema matches protocol.ProcessRequest. Optional fields may be
// sent as null.
const processRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["query"],
  "properties": {
    "query":     {"type": "string"},
    "url":       {"type": ["string", "null"]},
    "voice":     {"type": ["string", "null"]},
    "file_text": {"type": ["string", "null"]}
  }
}`

func compileProcessSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.CompileString("process_request.schema.json", processRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile process schema: %w", err)
	}
	return schema, nil
}

// decodeProcessRequest validates raw against the schema before decoding it.
func decodeProcessRequest(schema *jsonschema.Schema, raw []byte) (protocol.ProcessRequest, error) {
	var req protocol.ProcessRequest
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return req, err
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}
