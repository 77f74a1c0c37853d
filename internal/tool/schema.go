package tool

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// jsonSchema is the subset of JSON Schema the built-in tools declare:
// a flat object with typed properties, required names, and optional
// string enums. Nested schemas pass validation untyped.
type jsonSchema struct {
	Properties map[string]jsonSchemaProp `json:"properties"`
	Required   []string                  `json:"required"`
}

type jsonSchemaProp struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// ValidateArgs checks args against a declaration's schema: every
// required property present, every supplied property of the declared
// type, enum values in range. Properties the schema does not declare
// are rejected; a model inventing argument names is the common failure
// this catches.
func ValidateArgs(schemaJSON json.RawMessage, args map[string]any) error {
	var s jsonSchema
	if err := json.Unmarshal(schemaJSON, &s); err != nil {
		return fmt.Errorf("tool: invalid schema: %w", err)
	}

	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, value := range args {
		prop, ok := s.Properties[name]
		if !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
		if err := checkType(name, prop, value); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name string, prop jsonSchemaProp, value any) error {
	if value == nil {
		return nil
	}
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(prop.Enum) > 0 {
			for _, e := range prop.Enum {
				if s == e {
					return nil
				}
			}
			return fmt.Errorf("argument %q must be one of %v", name, prop.Enum)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("argument %q must be an integer", name)
			}
		default:
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "number":
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("argument %q must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("argument %q must be an object", name)
		}
	}
	return nil
}

// intArg reads an integer argument that may have arrived as a JSON
// float64.
func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func boolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

// EinoToolInfo converts a declaration to the Eino advertisement shape
// consumed by provider adapters.
func EinoToolInfo(decl Declaration) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        decl.Name,
		Desc:        decl.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(decl.Schema)),
	}
}

// parseJSONSchemaToParams converts the JSON-schema subset to Eino
// ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var s jsonSchema
	if err := json.Unmarshal(schemaJSON, &s); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range s.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range s.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Enum:     prop.Enum,
			Required: requiredSet[name],
		}
	}

	return params
}
