package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemas maps each event to the JSON schema its payload must satisfy.
// Unknown properties are tolerated so either side can grow fields.
var schemas = map[string]string{
	EventUserMessage: `{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string"},
			"requestId": {"type": "string"}
		}
	}`,
	EventAIResponse: `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"message": {"type": "string"},
			"requestId": {"type": "string"},
			"actions": {
				"type": ["array", "null"],
				"items": {
					"type": "object",
					"required": ["type"],
					"properties": {
						"type": {"type": "string", "minLength": 1},
						"serverId": {"type": ["string", "null"]},
						"command": {"type": ["string", "null"]}
					}
				}
			},
			"intent": {
				"type": ["object", "null"],
				"properties": {
					"intent": {"type": "string"},
					"targetServer": {"type": ["string", "null"]},
					"action": {"type": ["string", "null"]}
				}
			}
		}
	}`,
	EventExecuteAction: `{
		"type": "object",
		"required": ["actionId", "serverId", "command"],
		"properties": {
			"actionId": {"type": "string", "minLength": 1},
			"serverId": {"type": "string", "minLength": 1},
			"command": {"type": "string", "minLength": 1},
			"requestToken": {"type": "integer", "minimum": 0}
		}
	}`,
	EventActionResult: `{
		"type": "object",
		"required": ["actionId", "exitCode"],
		"properties": {
			"actionId": {"type": "string", "minLength": 1},
			"serverId": {"type": "string"},
			"stdout": {"type": "string"},
			"stderr": {"type": "string"},
			"exitCode": {"type": "integer"},
			"error": {"type": "string"},
			"requestToken": {"type": "integer", "minimum": 0}
		}
	}`,
	EventGetMetrics: `{
		"type": "object",
		"required": ["serverId"],
		"properties": {
			"serverId": {"type": "string", "minLength": 1},
			"requestToken": {"type": "integer", "minimum": 0}
		}
	}`,
	EventMetricsUpdate: `{
		"type": "object",
		"required": ["serverId"],
		"properties": {
			"serverId": {"type": "string", "minLength": 1},
			"metrics": {"type": ["object", "null"]},
			"error": {"type": "string"},
			"requestToken": {"type": "integer", "minimum": 0}
		}
	}`,
	EventListServers: `{"type": "object"}`,
	EventServerList: `{
		"type": "object",
		"required": ["servers"],
		"properties": {
			"servers": {"type": ["array", "null"], "items": {"type": "object", "required": ["id"]}}
		}
	}`,
	EventServerRemoved: `{
		"type": "object",
		"required": ["serverId"],
		"properties": {"serverId": {"type": "string", "minLength": 1}}
	}`,
	EventError: `{
		"type": "object",
		"required": ["message"],
		"properties": {"message": {"type": "string"}}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() {
	compiled = make(map[string]*jsonschema.Schema, len(schemas))
	for event, src := range schemas {
		s, err := jsonschema.CompileString("infrawhiz://wire/"+event+".json", src)
		if err != nil {
			compileErr = fmt.Errorf("wire: compile schema %s: %w", event, err)
			return
		}
		compiled[event] = s
	}
}

// Validate checks data against the schema for event. Events without a
// schema are rejected.
func Validate(event string, data []byte) error {
	compileOnce.Do(compileSchemas)
	if compileErr != nil {
		return compileErr
	}
	s, ok := compiled[event]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, event)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
	}
	return nil
}

// Decode validates data against the schema for event, then unmarshals it
// into out.
func Decode(event string, data []byte, out any) error {
	if err := Validate(event, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
	}
	return nil
}
