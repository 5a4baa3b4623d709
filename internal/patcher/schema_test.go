package patcher

import "testing"

func TestValidateKwargs_RejectsMissingRequiredField(t *testing.T) {
	err := validateKwargs("patch.auto", map[string]any{"path": "a.go"})
	if err == nil {
		t.Fatal(`expected patch.auto without "code" to fail schema validation`)
	}
}

func TestValidateKwargs_AcceptsWellFormedKwargs(t *testing.T) {
	err := validateKwargs("patch.auto", map[string]any{"path": "a.go", "code": "return nil"})
	if err != nil {
		t.Errorf("expected well-formed patch.auto kwargs to validate, got %v", err)
	}
}

func TestValidateKwargs_RejectsWrongType(t *testing.T) {
	err := validateKwargs("dump.symbol", map[string]any{
		"src_path": "a.go",
		"symbol":   123, // should be a string
		"out_path": "b.go",
	})
	if err == nil {
		t.Fatal("expected a non-string symbol to fail schema validation")
	}
}

func TestValidateKwargs_UnknownTaskNameHasNoSchemaSoAlwaysPasses(t *testing.T) {
	if err := validateKwargs("patch.write", map[string]any{}); err != nil {
		t.Errorf("patch.write is an args-based task with no kwargs schema, expected nil, got %v", err)
	}
}

func TestValidateKwargs_NilKwargsTreatedAsEmptyObject(t *testing.T) {
	err := validateKwargs("patch.batch", nil)
	if err != nil {
		t.Errorf("patch.batch has no required kwargs, nil should validate, got %v", err)
	}
}
