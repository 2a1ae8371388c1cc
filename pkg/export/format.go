package export

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format is a file format the exporters read or write.
type Format string

const (
	FormatMIDI    Format = "midi"
	FormatWAV     Format = "wav"
	FormatPatch   Format = "patch"
	FormatUnknown Format = "unknown"
)

// DetectFormat detects the format of a file from its extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mid", ".midi":
		return FormatMIDI
	case ".wav", ".wave":
		return FormatWAV
	case ".json":
		return FormatPatch
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects the format from the first bytes of a file.
func DetectFormatFromContent(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}
	switch {
	case string(data[:4]) == "MThd":
		return FormatMIDI
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")):
		return FormatPatch
	}
	return FormatUnknown
}
