package tools

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/linnemanlabs/warden/internal/extract"
)

// testSample holds plain strings, a UTF-16LE string and "http://c2.example"
// XOR-encoded with key 0x42.
var testSample = func() []byte {
	b := []byte("MZ\x00\x00PlainString\x00SecondString\x00")
	b = append(b, []byte("w\x00i\x00d\x00e\x00r\x00\x00\x00")...)
	return append(b, extract.XOR([]byte("http://c2.example"), 0x42, true)...)
}()

func execute[T any](t *testing.T, tool Tool, params string) T {
	t.Helper()
	raw, err := tool.Execute(context.Background(), json.RawMessage(params))
	if err != nil {
		t.Fatalf("%s(%s): %v", tool.Name(), params, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

func TestNewSampleRegistry(t *testing.T) {
	t.Parallel()

	r := NewSampleRegistry(testSample)
	for _, name := range []string{"sample_strings", "hex_dump", "xor_search", "xor_strings"} {
		tool, ok := r.Get(name)
		if !ok {
			t.Errorf("missing tool %q", name)
			continue
		}
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters(), &schema); err != nil {
			t.Errorf("%s schema is not JSON: %v", name, err)
		}
		if tool.Description() == "" {
			t.Errorf("%s has no description", name)
		}
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
}

func TestSampleStrings(t *testing.T) {
	t.Parallel()
	tool := &SampleStrings{data: testSample}

	tests := []struct {
		name   string
		params string
		want   []string
		total  int
	}{
		{"ascii default", `{}`, []string{"PlainString", "SecondString"}, -1},
		{"paged", `{"offset":1,"limit":1}`, []string{"SecondString"}, -1},
		{"past end", `{"offset":100}`, []string{}, -1},
		{"unicode", `{"encoding":"unicode"}`, []string{"wider"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := execute[stringsOutput](t, tool, tt.params)
			if len(out.Strings) < len(tt.want) || !slices.Equal(out.Strings[:len(tt.want)], tt.want) {
				t.Errorf("strings = %v, want prefix %v", out.Strings, tt.want)
			}
			if tt.total >= 0 && out.Total != tt.total {
				t.Errorf("total = %d, want %d", out.Total, tt.total)
			}
		})
	}
}

func TestSampleStrings_BadEncoding(t *testing.T) {
	t.Parallel()

	_, err := (&SampleStrings{data: testSample}).Execute(context.Background(), json.RawMessage(`{"encoding":"ebcdic"}`))
	if err == nil || !strings.Contains(err.Error(), "ebcdic") {
		t.Errorf("err = %v, want unknown encoding", err)
	}
}

func TestHexWindow(t *testing.T) {
	t.Parallel()
	tool := &HexWindow{data: testSample}

	out := execute[hexWindowOutput](t, tool, `{"offset":16,"length":20}`)
	if out.Size != len(testSample) {
		t.Errorf("size = %d, want %d", out.Size, len(testSample))
	}
	if len(out.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(out.Lines))
	}
	if !strings.HasPrefix(out.Lines[0], "00000010  ") || !strings.HasPrefix(out.Lines[1], "00000020  ") {
		t.Errorf("offsets not rebased: %q", out.Lines)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"offset":-1}`)); err == nil {
		t.Error("negative offset accepted")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"offset":100000}`)); err == nil {
		t.Error("offset past end accepted")
	}
}

func TestXORSearch(t *testing.T) {
	t.Parallel()
	tool := &XORSearch{data: testSample}

	out := execute[xorSearchOutput](t, tool, `{"needle":"c2.example","skip_nulls":true}`)
	if !slices.Contains(out.Keys, 0x42) {
		t.Errorf("keys = %v, want 0x42", out.Keys)
	}

	hexOut := execute[xorSearchOutput](t, tool, `{"needle":"63322e6578616d706c65","hex":true,"skip_nulls":true}`)
	if !slices.Equal(hexOut.Keys, out.Keys) {
		t.Errorf("hex needle keys = %v, want %v", hexOut.Keys, out.Keys)
	}

	for _, params := range []string{`{}`, `{"needle":"zz","hex":true}`, `not json`} {
		if _, err := tool.Execute(context.Background(), json.RawMessage(params)); err == nil {
			t.Errorf("params %s accepted", params)
		}
	}
}

func TestXORStrings(t *testing.T) {
	t.Parallel()
	tool := &XORStrings{data: testSample}

	out := execute[stringsOutput](t, tool, `{"key":66,"skip_nulls":true}`)
	if !strings.Contains(strings.Join(out.Strings, "\n"), "http://c2.example") {
		t.Errorf("decoded strings = %v", out.Strings)
	}

	for _, params := range []string{`{}`, `{"key":256}`, `{"key":-1}`} {
		if _, err := tool.Execute(context.Background(), json.RawMessage(params)); err == nil {
			t.Errorf("params %s accepted", params)
		}
	}
}
