package fsstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadJSON decodes the file at path into out. The on-disk document may have
// been edited by hand on Windows, so decoding is lenient: a UTF-8 BOM is
// stripped, and content that is not valid UTF-8 is retried as Windows-1251.
// Returns (false, nil) when the file does not exist or is empty.
func ReadJSON(path string, out any) (bool, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(normalizedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read json %s: %w", normalizedPath, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}

	firstErr := json.Unmarshal(data, out)
	if firstErr == nil {
		return true, nil
	}
	if !utf8.Valid(data) {
		decoded, decErr := charmap.Windows1251.NewDecoder().Bytes(data)
		if decErr == nil && json.Unmarshal(decoded, out) == nil {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: decode %s: %v", ErrDecodeFailed, normalizedPath, firstErr)
}

// WriteJSONAtomic marshals v and replaces the file at path atomically. The
// temp file is re-parsed before the rename so a partially written or
// unparseable document can never replace a good one.
func WriteJSONAtomic(path string, v any, opts FileOptions) error {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrEncodeFailed, normalizedPath, err)
	}
	data = append(data, '\n')
	return writeAtomic(normalizedPath, data, opts, func(written []byte) error {
		var check json.RawMessage
		return json.Unmarshal(written, &check)
	})
}
