package edid

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// FormatHex renders width bytes per line as space separated two-digit hex.
func FormatHex(data []byte, width int) string {
	if width <= 0 {
		width = 16
	}
	lines := make([]string, 0, len(data)/width+1)
	for i := 0; i < len(data); i += width {
		end := i + width
		if end > len(data) {
			end = len(data)
		}
		lines = append(lines, hexLine(data[i:end]))
	}
	return strings.Join(lines, "\n")
}

// FormatHexDump is FormatHex with a line offset prefix ("00: 00 FF ...").
func FormatHexDump(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%02X: %s", i, hexLine(data[i:end]))
	}
	return sb.String()
}

func hexLine(chunk []byte) string {
	parts := make([]string, len(chunk))
	for j, b := range chunk {
		parts[j] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// ParseHex accepts hex with any whitespace between bytes, as produced by
// FormatHex or by a plain hex encoder.
func ParseHex(s string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	data, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("invalid EDID hex: %w", err)
	}
	return data, nil
}
