package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JSONLWriter appends one JSON record per line to a file.
type JSONLWriter[T any] struct {
	path string
	f    *os.File
	enc  *json.Encoder
	n    int
}

// CreateJSONL creates (or truncates) path.
func CreateJSONL[T any](path string) (*JSONLWriter[T], error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("output: create %s: %w", filepath.Base(path), err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONLWriter[T]{path: path, f: f, enc: enc}, nil
}

func (w *JSONLWriter[T]) Write(rec T) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("output: write %s: %w", filepath.Base(w.path), err)
	}
	w.n++
	return nil
}

// Count is the number of records written.
func (w *JSONLWriter[T]) Count() int { return w.n }

func (w *JSONLWriter[T]) Path() string { return w.path }

func (w *JSONLWriter[T]) Close() error { return w.f.Close() }

// ReadJSONL reads a JSONL file into a slice of T.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
