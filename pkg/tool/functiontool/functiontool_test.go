// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package functiontool_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/kadirpekel/hector/pkg/tool/functiontool"
)

func TestNewSimpleArgs(t *testing.T) {
	type SimpleArgs struct {
		Name string `json:"name" jsonschema:"required,description=User name"`
		Age  int    `json:"age,omitempty" jsonschema:"description=User age,minimum=0,maximum=150"`
	}

	greetTool, err := functiontool.New(
		functiontool.Config{Name: "greet", Description: "Greet a user"},
		func(ctx context.Context, args SimpleArgs) (string, error) {
			return fmt.Sprintf("Hello, %s! Age: %d", args.Name, args.Age), nil
		},
	)
	if err != nil {
		t.Fatalf("Failed to create tool: %v", err)
	}

	if greetTool.Name() != "greet" {
		t.Errorf("Name() = %q, want greet", greetTool.Name())
	}
	if greetTool.Description() != "Greet a user" {
		t.Errorf("Description() = %q, want %q", greetTool.Description(), "Greet a user")
	}
	if greetTool.Timeout() != 0 {
		t.Errorf("Timeout() = %v, want zero (port default applies)", greetTool.Timeout())
	}

	schema := greetTool.Schema()
	if schema["type"] != "object" {
		t.Errorf("schema type = %v, want object", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatal("properties missing or wrong type")
	}
	if _, ok := props["name"]; !ok {
		t.Error("property 'name' not found in schema")
	}
	if _, ok := props["age"]; !ok {
		t.Error("property 'age' not found in schema")
	}

	required, ok := schema["required"].([]any)
	if !ok {
		t.Fatal("required field missing or wrong type")
	}
	foundName := false
	for _, r := range required {
		if r == "name" {
			foundName = true
		}
	}
	if !foundName {
		t.Error("'name' should be in required fields")
	}
}

func TestCallValidArgs(t *testing.T) {
	type MathArgs struct {
		A int `json:"a" jsonschema:"required,description=First number"`
		B int `json:"b" jsonschema:"required,description=Second number"`
	}

	addTool, err := functiontool.New(
		functiontool.Config{Name: "add", Description: "Add two numbers"},
		func(ctx context.Context, args MathArgs) (string, error) {
			return fmt.Sprintf("%d", args.A+args.B), nil
		},
	)
	if err != nil {
		t.Fatalf("Failed to create tool: %v", err)
	}

	result, err := addTool.Call(context.Background(), map[string]any{"a": 5.0, "b": 3.0})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != "8" {
		t.Errorf("result = %q, want 8", result)
	}
}

func TestNewWithValidation(t *testing.T) {
	type PathArgs struct {
		Path string `json:"path" jsonschema:"required,description=File path"`
	}

	validateTool, err := functiontool.NewWithValidation(
		functiontool.Config{Name: "read_file", Description: "Read a file"},
		func(ctx context.Context, args PathArgs) (string, error) {
			return args.Path, nil
		},
		func(args PathArgs) error {
			if strings.Contains(args.Path, "..") {
				return fmt.Errorf("path traversal not allowed")
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("Failed to create tool: %v", err)
	}

	result, err := validateTool.Call(context.Background(), map[string]any{"path": "/safe/path/file.txt"})
	if err != nil {
		t.Errorf("valid path rejected: %v", err)
	}
	if result != "/safe/path/file.txt" {
		t.Errorf("result = %q", result)
	}

	_, err = validateTool.Call(context.Background(), map[string]any{"path": "../../../etc/passwd"})
	if err == nil {
		t.Error("expected validation error for path traversal")
	}
	if !strings.Contains(err.Error(), "path traversal not allowed") {
		t.Errorf("expected path traversal error, got: %v", err)
	}
}

func TestNewComplexTypes(t *testing.T) {
	type ComplexArgs struct {
		Query     string   `json:"query" jsonschema:"required,description=Search query"`
		Languages []string `json:"languages,omitempty" jsonschema:"description=Language filters"`
		MaxCount  int      `json:"max_count,omitempty" jsonschema:"description=Max results,default=10,minimum=1,maximum=100"`
	}

	complexTool, err := functiontool.New(
		functiontool.Config{Name: "search", Description: "Search with filters"},
		func(ctx context.Context, args ComplexArgs) (string, error) {
			b, _ := json.Marshal(args)
			return string(b), nil
		},
	)
	if err != nil {
		t.Fatalf("Failed to create tool: %v", err)
	}

	schema := complexTool.Schema()
	props := schema["properties"].(map[string]any)

	langProp := props["languages"].(map[string]any)
	if langProp["type"] != "array" {
		t.Errorf("languages type = %v, want array", langProp["type"])
	}

	maxCountProp := props["max_count"].(map[string]any)
	if maxCountProp["minimum"] != float64(1) {
		t.Errorf("minimum = %v, want 1", maxCountProp["minimum"])
	}
	if maxCountProp["maximum"] != float64(100) {
		t.Errorf("maximum = %v, want 100", maxCountProp["maximum"])
	}
}

func TestNewInvalidConfig(t *testing.T) {
	type DummyArgs struct {
		Value string `json:"value"`
	}
	fn := func(ctx context.Context, args DummyArgs) (string, error) { return "", nil }

	if _, err := functiontool.New(functiontool.Config{Description: "no name"}, fn); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := functiontool.New(functiontool.Config{Name: "no_description"}, fn); err == nil {
		t.Error("expected error for missing description")
	}
}

func TestCallFunctionError(t *testing.T) {
	type ErrorArgs struct {
		ShouldFail bool `json:"should_fail"`
	}

	errorTool, err := functiontool.New(
		functiontool.Config{Name: "error_test", Description: "Tests error handling"},
		func(ctx context.Context, args ErrorArgs) (string, error) {
			if args.ShouldFail {
				return "", fmt.Errorf("intentional error")
			}
			return "ok", nil
		},
	)
	if err != nil {
		t.Fatalf("Failed to create tool: %v", err)
	}

	result, err := errorTool.Call(context.Background(), map[string]any{"should_fail": false})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}

	_, err = errorTool.Call(context.Background(), map[string]any{"should_fail": true})
	if err == nil {
		t.Error("expected error from function")
	}
	if !strings.Contains(err.Error(), "intentional error") {
		t.Errorf("expected 'intentional error', got: %v", err)
	}
}

func TestCallTypeConversion(t *testing.T) {
	type NumericArgs struct {
		IntVal    int     `json:"int_val"`
		FloatVal  float64 `json:"float_val"`
		BoolVal   bool    `json:"bool_val"`
		StringVal string  `json:"string_val"`
	}

	numericTool, err := functiontool.New(
		functiontool.Config{Name: "numeric", Description: "Tests type conversion"},
		func(ctx context.Context, args NumericArgs) (string, error) {
			return fmt.Sprintf("%d|%v|%v|%s", args.IntVal, args.FloatVal, args.BoolVal, args.StringVal), nil
		},
	)
	if err != nil {
		t.Fatalf("Failed to create tool: %v", err)
	}

	result, err := numericTool.Call(context.Background(), map[string]any{
		"int_val":    42.0,
		"float_val":  3.14,
		"bool_val":   true,
		"string_val": "hello",
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != "42|3.14|true|hello" {
		t.Errorf("result = %q", result)
	}
}
