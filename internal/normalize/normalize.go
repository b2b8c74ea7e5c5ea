// Package normalize turns raw complaint rows into text records ready for
// embedding.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"trustvoice/internal/domain"
)

// Normalizer deduplicates rows, coerces every value to text and derives the
// combined text of each record.
type Normalizer struct {
	narrativeFields []string
	summaryFields   []string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithNarrativeFields sets the columns checked, in order, for a free-text
// complaint narrative.
func WithNarrativeFields(fields ...string) Option {
	return func(n *Normalizer) { n.narrativeFields = fields }
}

// WithSummaryFields sets the columns joined when no narrative is present.
func WithSummaryFields(fields ...string) Option {
	return func(n *Normalizer) { n.summaryFields = fields }
}

// New creates a Normalizer with CFPB-style defaults.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		narrativeFields: []string{"consumer_complaint_narrative", "Consumer complaint narrative", "narrative"},
		summaryFields:   []string{"company", "product", "issue"},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns one record per distinct row, in input order. The input
// table is not modified.
func (n *Normalizer) Normalize(table *domain.RawTable) []domain.Record {
	if table == nil || len(table.Rows) == 0 {
		return []domain.Record{}
	}

	columns := unionColumns(table)
	seen := make(map[string]struct{}, len(table.Rows))
	out := make([]domain.Record, 0, len(table.Rows))

	for _, row := range table.Rows {
		key := rowKey(columns, row)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		fields := make(map[string]string, len(columns))
		for _, c := range columns {
			fields[c] = ToText(row[c])
		}
		out = append(out, domain.Record{
			Fields: fields,
			Text:   n.combinedText(columns, fields),
		})
	}
	return out
}

func (n *Normalizer) combinedText(columns []string, fields map[string]string) string {
	for _, f := range n.narrativeFields {
		if v := strings.TrimSpace(fields[f]); v != "" {
			return v
		}
	}

	var parts []string
	for _, f := range n.summaryFields {
		if v := strings.TrimSpace(fields[f]); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}

	for _, c := range columns {
		if v := strings.TrimSpace(fields[c]); v != "" {
			return v
		}
	}
	return ""
}

// unionColumns returns table.Columns followed by any row key it does not list.
func unionColumns(table *domain.RawTable) []string {
	seen := make(map[string]struct{}, len(table.Columns))
	cols := make([]string, 0, len(table.Columns))
	for _, c := range table.Columns {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	var extra []string
	for _, row := range table.Rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
	}
	// map iteration order is random
	sort.Strings(extra)
	return append(cols, extra...)
}

// rowKey identifies a row for exact-duplicate detection. A missing key and
// a nil value produce the same key.
func rowKey(columns []string, row map[string]any) string {
	var b strings.Builder
	for _, c := range columns {
		v, ok := row[c]
		if !ok || v == nil {
			b.WriteString("\x00N")
		} else {
			b.WriteString("\x00V")
			b.WriteString(fmt.Sprintf("%T:", v))
			b.WriteString(ToText(v))
		}
		b.WriteByte('\x1f')
	}
	return b.String()
}

// ToText renders a raw cell as text. Missing values become "", floats use
// the shortest representation and nested values are JSON-encoded.
func ToText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case []any, map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
