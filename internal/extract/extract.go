// Package extract pulls human-readable material out of binary content:
// printable strings, hex dumps and single-byte XOR transforms.
package extract

import (
	"bytes"
	"fmt"
	"strings"
)

// MinStringLen is the shortest run reported as a string.
const MinStringLen = 4

func printable(b byte) bool { return b >= 0x20 && b <= 0x7e }

// ASCII returns every run of at least MinStringLen printable ASCII bytes,
// in file order.
func ASCII(data []byte) []string {
	var out []string
	start := -1
	for i, b := range data {
		if printable(b) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= MinStringLen {
			out = append(out, string(data[start:i]))
		}
		start = -1
	}
	if start >= 0 && len(data)-start >= MinStringLen {
		out = append(out, string(data[start:]))
	}
	return out
}

// Unicode returns every run of at least MinStringLen UTF-16LE encoded
// printable ASCII characters (a printable byte followed by 0x00), decoded.
// Runs starting at odd and even offsets are both found.
func Unicode(data []byte) []string {
	var out []string
	var run []byte
	flush := func() {
		if len(run) >= MinStringLen {
			out = append(out, string(run))
		}
		run = run[:0]
	}
	for i := 0; i+1 < len(data); {
		if printable(data[i]) && data[i+1] == 0 {
			run = append(run, data[i])
			i += 2
			continue
		}
		flush()
		i++
	}
	flush()
	return out
}

// HexDump renders data as lines of offset, sixteen hex bytes and the
// printable ASCII column.
func HexDump(data []byte) []string {
	lines := make([]string, 0, (len(data)+15)/16)
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]
		sb.Reset()
		fmt.Fprintf(&sb, "%08x  ", off)
		for i := range 16 {
			if i < len(row) {
				fmt.Fprintf(&sb, "%02x ", row[i])
			} else {
				sb.WriteString("   ")
			}
			if i == 7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")
		for _, b := range row {
			if printable(b) {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('|')
		lines = append(lines, sb.String())
	}
	return lines
}

// XOR returns a copy of data with every byte XORed with key. With skipNulls
// set, bytes equal to 0x00 or to key are left untouched so zero padding does
// not leak the key.
func XOR(data []byte, key byte, skipNulls bool) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		if skipNulls && (b == 0 || b == key) {
			out[i] = b
			continue
		}
		out[i] = b ^ key
	}
	return out
}

// XORSearch returns every key in 1..255 for which XOR(data, key, skipNulls)
// contains needle. An empty needle matches nothing.
func XORSearch(data, needle []byte, skipNulls bool) []int {
	keys := []int{}
	if len(needle) == 0 {
		return keys
	}
	for k := 1; k <= 255; k++ {
		if bytes.Contains(XOR(data, byte(k), skipNulls), needle) {
			keys = append(keys, k)
		}
	}
	return keys
}
