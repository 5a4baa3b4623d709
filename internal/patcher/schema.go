package patcher

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// taskSchemas holds a JSON Schema per kwargs-driven task name, grounded
// on Tool.ValidateArgs in _examples/ChamsBouzaiene-dodo/internal/engine/tools.go
// (there used to validate LLM tool-call arguments; here to validate
// patch/dump/refactor task kwargs arriving off the bus before any
// handler touches the filesystem).
var taskSchemas = map[string]string{
	"patch.auto": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"code": {"type": "string"},
			"line_start": {"type": "integer"},
			"line_end": {"type": "integer"},
			"symbol": {"type": "string"},
			"anchor": {"type": "string"},
			"query": {"type": "string"},
			"force": {"type": "boolean"}
		},
		"required": ["code"]
	}`,
	"patch.batch": `{
		"type": "object",
		"properties": {
			"ops": {"type": "array"},
			"force": {"type": "boolean"}
		}
	}`,
	"dump.symbol": `{
		"type": "object",
		"properties": {
			"src_path": {"type": "string"},
			"symbol": {"type": "string"},
			"out_path": {"type": "string"}
		},
		"required": ["src_path", "symbol", "out_path"]
	}`,
	"dump.query": `{
		"type": "object",
		"properties": {
			"src_path": {"type": "string"},
			"query": {"type": "string"},
			"out_path": {"type": "string"}
		},
		"required": ["src_path", "query", "out_path"]
	}`,
	"dump.query_global": `{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"out_path": {"type": "string"},
			"topk": {"type": "integer"}
		},
		"required": ["query", "out_path"]
	}`,
	"refactor.move": `{
		"type": "object",
		"properties": {
			"src_path": {"type": "string"},
			"symbol": {"type": "string"},
			"dst_path": {"type": "string"}
		},
		"required": ["src_path", "symbol", "dst_path"]
	}`,
	"refactor.split": `{
		"type": "object",
		"properties": {
			"src_path": {"type": "string"},
			"out_dir": {"type": "string"}
		},
		"required": ["src_path", "out_dir"]
	}`,
}

// validateKwargs checks kw against name's schema, returning nil when
// name carries no schema (positional-args tasks validate their own
// arg count inline in Dispatch).
func validateKwargs(name string, kw map[string]any) error {
	schema, ok := taskSchemas[name]
	if !ok {
		return nil
	}
	if kw == nil {
		kw = map[string]any{}
	}
	schemaLoader := gojsonschema.NewStringLoader(schema)
	docLoader := gojsonschema.NewGoLoader(kw)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid %s arguments: %v", name, msgs)
	}
	return nil
}
