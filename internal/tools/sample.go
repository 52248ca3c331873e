package tools

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/warden/internal/extract"
)

const (
	defaultStringLimit = 100
	maxStringLimit     = 500
	defaultHexLength   = 256
	maxHexLength       = 4096
)

// NewSampleRegistry returns the tools that inspect one sample's content.
// data is shared, not copied, and must not be modified while tools run.
func NewSampleRegistry(data []byte) *Registry {
	r := NewRegistry()
	r.Register(&SampleStrings{data: data})
	r.Register(&HexWindow{data: data})
	r.Register(&XORSearch{data: data})
	r.Register(&XORStrings{data: data})
	return r
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// page returns items[offset:offset+limit] with bounds clamped.
func page(items []string, offset, limit int) []string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	limit = min(limit, maxStringLimit)
	offset = max(offset, 0)
	if offset >= len(items) {
		return []string{}
	}
	return items[offset:min(offset+limit, len(items))]
}

type stringsOutput struct {
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
	Strings []string `json:"strings"`
}

// SampleStrings lists printable strings of the sample.
type SampleStrings struct {
	data []byte
}

type sampleStringsInput struct {
	Encoding string `json:"encoding,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (t *SampleStrings) Name() string { return "sample_strings" }

func (t *SampleStrings) Description() string {
	return "List printable strings (runs of at least 4 characters) found in the sample. " +
		"Use encoding \"ascii\" or \"unicode\" (UTF-16LE). Results are paged with offset and limit."
}

func (t *SampleStrings) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"encoding": {"type": "string", "enum": ["ascii", "unicode"], "description": "String encoding, default ascii"},
			"offset": {"type": "integer", "description": "Index of the first string to return"},
			"limit": {"type": "integer", "description": "Maximum strings to return (default 100, max 500)"}
		}
	}`)
}

func (t *SampleStrings) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in sampleStringsInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}

	var all []string
	switch in.Encoding {
	case "", "ascii":
		all = extract.ASCII(t.data)
	case "unicode":
		all = extract.Unicode(t.data)
	default:
		return nil, fmt.Errorf("unknown encoding %q", in.Encoding)
	}

	return json.Marshal(stringsOutput{Total: len(all), Offset: max(in.Offset, 0), Strings: page(all, in.Offset, in.Limit)})
}

// HexWindow dumps a byte range of the sample.
type HexWindow struct {
	data []byte
}

type hexWindowInput struct {
	Offset int `json:"offset,omitempty"`
	Length int `json:"length,omitempty"`
}

type hexWindowOutput struct {
	Size  int      `json:"size"`
	Lines []string `json:"lines"`
}

func (t *HexWindow) Name() string { return "hex_dump" }

func (t *HexWindow) Description() string {
	return "Hex dump a byte range of the sample, 16 bytes per line with an ASCII column. " +
		"Useful for headers, embedded resources and encoded blobs."
}

func (t *HexWindow) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"offset": {"type": "integer", "description": "Byte offset to start at"},
			"length": {"type": "integer", "description": "Bytes to dump (default 256, max 4096)"}
		}
	}`)
}

func (t *HexWindow) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in hexWindowInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.Offset < 0 || in.Offset > len(t.data) {
		return nil, fmt.Errorf("offset %d outside sample of %d bytes", in.Offset, len(t.data))
	}
	length := in.Length
	if length <= 0 {
		length = defaultHexLength
	}
	length = min(length, maxHexLength)
	end := min(in.Offset+length, len(t.data))

	lines := extract.HexDump(t.data[in.Offset:end])
	// HexDump numbers lines from zero, rebase them on the requested offset
	for i, l := range lines {
		lines[i] = fmt.Sprintf("%08x", in.Offset+i*16) + l[8:]
	}
	return json.Marshal(hexWindowOutput{Size: len(t.data), Lines: lines})
}

// XORSearch finds single-byte XOR keys under which a string appears.
type XORSearch struct {
	data []byte
}

type xorSearchInput struct {
	Needle    string `json:"needle"`
	Hex       bool   `json:"hex,omitempty"`
	SkipNulls bool   `json:"skip_nulls,omitempty"`
}

type xorSearchOutput struct {
	Keys []int `json:"keys"`
}

func (t *XORSearch) Name() string { return "xor_search" }

func (t *XORSearch) Description() string {
	return "Find every single-byte XOR key (1-255) under which the needle appears in the sample. " +
		"Set skip_nulls when the encoder left 0x00 and key bytes unchanged."
}

func (t *XORSearch) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"needle": {"type": "string", "description": "Plaintext to look for, e.g. http or MZ"},
			"hex": {"type": "boolean", "description": "Needle is hex encoded bytes"},
			"skip_nulls": {"type": "boolean", "description": "Leave 0x00 and key bytes unchanged while decoding"}
		},
		"required": ["needle"]
	}`)
}

func (t *XORSearch) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in xorSearchInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.Needle == "" {
		return nil, fmt.Errorf("needle is required")
	}
	needle := []byte(in.Needle)
	if in.Hex {
		b, err := hex.DecodeString(in.Needle)
		if err != nil {
			return nil, fmt.Errorf("invalid hex needle: %w", err)
		}
		needle = b
	}
	return json.Marshal(xorSearchOutput{Keys: extract.XORSearch(t.data, needle, in.SkipNulls)})
}

// XORStrings decodes the sample with a key and lists the resulting strings.
type XORStrings struct {
	data []byte
}

type xorStringsInput struct {
	Key       *int `json:"key"`
	SkipNulls bool `json:"skip_nulls,omitempty"`
	Offset    int  `json:"offset,omitempty"`
	Limit     int  `json:"limit,omitempty"`
}

func (t *XORStrings) Name() string { return "xor_strings" }

func (t *XORStrings) Description() string {
	return "Decode the sample with a single-byte XOR key and list the printable ASCII strings of the result. " +
		"Use after xor_search found a key."
}

func (t *XORStrings) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "integer", "minimum": 0, "maximum": 255, "description": "XOR key"},
			"skip_nulls": {"type": "boolean", "description": "Leave 0x00 and key bytes unchanged"},
			"offset": {"type": "integer", "description": "Index of the first string to return"},
			"limit": {"type": "integer", "description": "Maximum strings to return (default 100, max 500)"}
		},
		"required": ["key"]
	}`)
}

func (t *XORStrings) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in xorStringsInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.Key == nil {
		return nil, fmt.Errorf("key is required")
	}
	if *in.Key < 0 || *in.Key > 255 {
		return nil, fmt.Errorf("key %d out of range 0..255", *in.Key)
	}
	all := extract.ASCII(extract.XOR(t.data, byte(*in.Key), in.SkipNulls))
	return json.Marshal(stringsOutput{Total: len(all), Offset: max(in.Offset, 0), Strings: page(all, in.Offset, in.Limit)})
}
