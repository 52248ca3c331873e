package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name string
	desc string
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return s.desc }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"ok"`), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubTool{name: "my_tool", desc: "does stuff"})

	tool, ok := r.Get("my_tool")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if tool.Name() != "my_tool" {
		t.Errorf("Name() = %q, want %q", tool.Name(), "my_tool")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected ok=false for missing tool")
	}
}

func TestRegistry_ToToolDefs_Sorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubTool{name: "tool_b", desc: "desc b"})
	r.Register(&stubTool{name: "tool_a", desc: "desc a"})
	r.Register(&stubTool{name: "tool_c", desc: "desc c"})

	defs := r.ToToolDefs()
	if len(defs) != 3 {
		t.Fatalf("len(defs) = %d, want 3", len(defs))
	}
	for i, want := range []string{"tool_a", "tool_b", "tool_c"} {
		if defs[i].Name != want {
			t.Errorf("defs[%d].Name = %q, want %q", i, defs[i].Name, want)
		}
		if len(defs[i].InputSchema) == 0 {
			t.Errorf("tool %q has empty InputSchema", want)
		}
	}
	if defs[0].Description != "desc a" {
		t.Errorf("tool_a description = %q, want %q", defs[0].Description, "desc a")
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubTool{name: "dup", desc: "first"})
	r.Register(&stubTool{name: "dup", desc: "second"})

	tool, ok := r.Get("dup")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if tool.Description() != "second" {
		t.Errorf("Description() = %q, want %q (should be overwritten)", tool.Description(), "second")
	}
	if defs := r.ToToolDefs(); len(defs) != 1 {
		t.Errorf("len(defs) = %d, want 1 after overwrite", len(defs))
	}
}
