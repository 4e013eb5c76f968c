package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchema is the structural shape of a plan file. Semantic checks
// (positive durations, valid URLs, ...) live in Validate.
const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["target", "stages"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "target": {
      "type": "object",
      "required": ["url"],
      "additionalProperties": false,
      "properties": {
        "url": {"type": "string"},
        "method": {"type": "string"},
        "headers": {
          "type": "object",
          "additionalProperties": {"type": "string"}
        }
      }
    },
    "stages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["target"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string"},
          "duration": {"$ref": "#/definitions/duration"},
          "durationSeconds": {"type": "integer"},
          "target": {"type": "integer", "maximum": 2147483647}
        }
      }
    },
    "settings": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "timeout": {"$ref": "#/definitions/duration"},
        "tickInterval": {"$ref": "#/definitions/duration"},
        "gracefulStop": {"$ref": "#/definitions/duration"},
        "maxVUs": {"type": "integer"},
        "maxConnsPerHost": {"type": "integer"},
        "noConnectionReuse": {"type": "boolean"},
        "insecureSkipVerify": {"type": "boolean"},
        "userAgent": {"type": "string"}
      }
    }
  },
  "definitions": {
    "duration": {"type": ["string", "integer"]}
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func planJSONSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan.json", strings.NewReader(planSchema)); err != nil {
			compileErr = fmt.Errorf("invalid plan schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("plan.json")
	})
	return compiledSchema, compileErr
}

// checkStructure validates a decoded document against the plan schema.
// doc must be made of JSON types (map[string]interface{}, []interface{},
// string, float64, bool, nil).
func checkStructure(doc interface{}) error {
	schema, err := planJSONSchema()
	if err != nil {
		return err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Error())
	}
	return errs
}

// collectSchemaErrors flattens the error tree, keeping only leaf causes.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(pointerToField(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// pointerToField turns "/stages/0/target" into "stages[0].target".
func pointerToField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}

	var sb strings.Builder
	for i, part := range strings.Split(pointer, "/") {
		if isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// toJSONDocument round-trips v through encoding/json so that YAML-decoded
// values use the types the schema validator expects.
func toJSONDocument(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
