// Package loader reads complaint exports into raw tables. CSV, JSON Lines
// and JSON arrays are supported; column sets may differ between rows and
// between sources.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
)

// Load reads one data source, choosing the decoder by file extension.
func Load(ctx context.Context, source string) (*domain.RawTable, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open data source", goerr.V(domain.KeyPath, source))
	}
	defer f.Close()

	var table *domain.RawTable
	switch ext := strings.ToLower(filepath.Ext(source)); ext {
	case ".csv":
		table, err = readCSV(ctx, f)
	case ".jsonl", ".ndjson":
		table, err = readJSONLines(ctx, f)
	case ".json":
		table, err = readJSONArray(f)
	default:
		return nil, goerr.Wrap(domain.ErrInvalidRequest, "unsupported data source format",
			goerr.V(domain.KeyPath, source), goerr.V("extension", ext))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read data source", goerr.V(domain.KeyPath, source))
	}

	logging.From(ctx).Info("loaded data source", "path", source, "rows", len(table.Rows), "columns", len(table.Columns))
	return table, nil
}

// LoadAll concatenates several sources into one table whose columns are the
// union of every source's columns in first-seen order.
func LoadAll(ctx context.Context, sources ...string) (*domain.RawTable, error) {
	out := &domain.RawTable{}
	seen := map[string]struct{}{}
	for _, src := range sources {
		t, err := Load(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, c := range t.Columns {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out.Columns = append(out.Columns, c)
			}
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out, nil
}

func readCSV(ctx context.Context, r io.Reader) (*domain.RawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &domain.RawTable{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read csv header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &domain.RawTable{Columns: header}
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read csv row", goerr.V("line", line))
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(rec) || rec[i] == "" {
				row[col] = nil
				continue
			}
			row[col] = rec[i]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func readJSONLines(ctx context.Context, r io.Reader) (*domain.RawTable, error) {
	table := &domain.RawTable{}
	cols := map[string]struct{}{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		row, keys, err := decodeObject([]byte(raw))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode json line", goerr.V("line", line))
		}
		addColumns(table, cols, keys)
		table.Rows = append(table.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to scan json lines")
	}
	return table, nil
}

func readJSONArray(r io.Reader) (*domain.RawTable, error) {
	var items []json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, goerr.Wrap(err, "failed to decode json array")
	}
	table := &domain.RawTable{}
	cols := map[string]struct{}{}
	for i, item := range items {
		row, keys, err := decodeObject(item)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode json object", goerr.V("index", i))
		}
		addColumns(table, cols, keys)
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// decodeObject decodes one JSON object and returns its keys in document
// order, since map iteration would lose the column order.
func decodeObject(data []byte) (map[string]any, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, goerr.New("expected a json object")
	}

	row := map[string]any{}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, goerr.New("expected an object key")
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := row[key]; !dup {
			keys = append(keys, key)
		}
		row[key] = v
	}
	return row, keys, nil
}

func addColumns(t *domain.RawTable, seen map[string]struct{}, keys []string) {
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		t.Columns = append(t.Columns, k)
	}
}
