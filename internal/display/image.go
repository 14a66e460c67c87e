package display

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// SaveBase64Image decodes a base64 data URI ("data:image/png;base64,...")
// and writes the raw bytes to filename. Everything after the first comma is
// treated as the payload.
func SaveBase64Image(filename, dataURI string) error {
	_, payload, found := strings.Cut(dataURI, ",")
	if !found {
		return fmt.Errorf("decode image data: no comma in data URI")
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode image data: %w", err)
	}

	if err := os.WriteFile(filename, raw, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
