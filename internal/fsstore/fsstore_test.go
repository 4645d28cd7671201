package fsstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestReadWriteJSONAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")
	type payload struct {
		Name string `json:"name"`
	}
	in := payload{Name: "alpha"}
	if err := WriteJSONAtomic(path, in, FileOptions{}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}
	var out payload
	ok, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !ok {
		t.Fatalf("ReadJSON() exists = false, want true")
	}
	if out.Name != in.Name {
		t.Fatalf("ReadJSON() value = %+v, want %+v", out, in)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	t.Parallel()

	var out map[string]any
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ok {
		t.Fatalf("ReadJSON() exists = true, want false")
	}
}

func TestReadJSONStripsBOM(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bom.json")
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"name":"bom"}`)...)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	var out struct {
		Name string `json:"name"`
	}
	ok, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !ok || out.Name != "bom" {
		t.Fatalf("ReadJSON() = (%v, %+v), want name %q", ok, out, "bom")
	}
}

func TestReadJSONWindows1251Fallback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "legacy.json")
	encoded, err := charmap.Windows1251.NewEncoder().Bytes([]byte(`{"name":"Привіт"}`))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	var out struct {
		Name string `json:"name"`
	}
	ok, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !ok || out.Name != "Привіт" {
		t.Fatalf("ReadJSON() = (%v, %+v), want decoded cyrillic name", ok, out)
	}
}

func TestReadJSONCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	var out map[string]any
	_, err := ReadJSON(path, &out)
	if !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("ReadJSON() error = %v, want ErrDecodeFailed", err)
	}
}

func TestWriteJSONAtomicKeepsPriorOnEncodeFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")
	if err := WriteJSONAtomic(path, map[string]string{"k": "v"}, FileOptions{}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}
	err := WriteJSONAtomic(path, map[string]any{"bad": func() {}}, FileOptions{})
	if !errors.Is(err, ErrEncodeFailed) {
		t.Fatalf("WriteJSONAtomic() error = %v, want ErrEncodeFailed", err)
	}
	var out map[string]string
	ok, err := ReadJSON(path, &out)
	if err != nil || !ok {
		t.Fatalf("ReadJSON() = (%v, %v), want prior document intact", ok, err)
	}
	if out["k"] != "v" {
		t.Fatalf("prior document = %v, want k=v", out)
	}
}
