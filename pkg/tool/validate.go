package tool

import "fmt"

// validateParams checks params against a JSON-Schema-shaped map produced
// by functiontool.generateSchema or an MCP server's advertised schema.
// No third-party JSON-Schema validator appears anywhere in the example
// pack (invopop/jsonschema only generates schemas, it does not validate
// against them), so this implements the subset spec §4.5 actually needs:
// required-field presence and the scalar/array/object type check of each
// declared property, recursing into object-typed properties, with
// path-qualified error messages.
func validateParams(schema map[string]any, params map[string]any) error {
	if schema == nil {
		return nil
	}
	return validateObject("", schema, params)
}

func validateObject(path string, schema map[string]any, value map[string]any) error {
	for _, req := range asStringSlice(schema["required"]) {
		if _, ok := value[req]; !ok {
			return fmt.Errorf("%s: missing required field", joinPath(path, req))
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, raw := range value {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue // unknown-property tolerance: spec validates declared params, not additionalProperties policy
		}
		if err := validateType(joinPath(path, name), propSchema, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateType(path string, schema map[string]any, value any) error {
	wantType, _ := schema["type"].(string)
	if wantType == "" || value == nil {
		return nil
	}

	switch wantType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
	case "integer", "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%s: expected number, got %T", path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		return validateObject(path, schema, obj)
	}
	return nil
}

func asStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
