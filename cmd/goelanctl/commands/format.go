// Package commands implements the goelanctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "-"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// column maps a table header onto a response field.
type column struct {
	header string
	key    string
}

// formatList renders rows (decoded response objects) in the requested
// format. cols selects and orders the table columns.
func formatList(rows []any, cols []column, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(rows)
	case formatYAML:
		return marshalYAML(rows)
	case formatTable:
		return formatTableRows(rows, cols)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatObject renders a single response object. In table format each
// field in cols becomes one "Header: value" line.
func formatObject(obj map[string]any, cols []column, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(obj)
	case formatYAML:
		return marshalYAML(obj)
	case formatTable:
		return formatDetail(obj, cols)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatTableRows(rows []any, cols []column) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	headers := make([]string, 0, len(cols))
	for _, c := range cols {
		headers = append(headers, c.header)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for _, r := range rows {
		row, _ := r.(map[string]any)
		cells := make([]string, 0, len(cols))
		for _, c := range cols {
			cells = append(cells, cell(row[c.key]))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

func formatDetail(obj map[string]any, cols []column) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	for _, c := range cols {
		fmt.Fprintf(w, "%s:\t%s\n", c.header, cell(obj[c.key]))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

// cell renders one decoded Struct value for a table. Whole numbers print
// without a fraction; lists are comma-joined.
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return valueNA
	case string:
		if x == "" {
			return valueNA
		}
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		if len(x) == 0 {
			return valueNA
		}
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, cell(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

// --- JSON and YAML ---

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal to YAML: %w", err)
	}
	return string(data), nil
}

// listField extracts a list field from a decoded response.
func listField(resp map[string]any, name string) []any {
	rows, _ := resp[name].([]any)
	return rows
}
