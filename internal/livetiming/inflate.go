package livetiming

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// CompressedSuffix marks feeds whose payload is a base64 string of raw DEFLATE data.
const CompressedSuffix = ".z"

// IsCompressed reports whether feed carries a compressed payload.
func IsCompressed(feed string) bool {
	return strings.HasSuffix(feed, CompressedSuffix)
}

// InflateString decodes a base64 raw DEFLATE blob into its JSON document.
func InflateString(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflating: %w", err)
	}
	return out, nil
}

// Inflate decodes a compressed feed payload, which arrives as a JSON string.
func Inflate(payload json.RawMessage) (json.RawMessage, error) {
	var encoded string
	if err := json.Unmarshal(payload, &encoded); err != nil {
		return nil, fmt.Errorf("compressed payload is not a string: %w", err)
	}
	return InflateString(encoded)
}
