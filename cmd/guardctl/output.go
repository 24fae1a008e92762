package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for --field=key
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		printJSON(data)
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Println(v)
			}
			return
		}
		for _, k := range sortedKeys(data) {
			fmt.Printf("%s=%v\n", k, data[k])
		}
	default:
		printTable(data)
	}
}

// printRows outputs a list of objects, one row each, using columns as the table header.
func printRows(rows []any, columns []string) {
	switch outputFormat {
	case "json":
		printJSON(rows)
		return
	case "raw":
		for _, row := range rows {
			m, _ := row.(map[string]any)
			if outputField != "" {
				fmt.Println(m[outputField])
				continue
			}
			fmt.Println(cells(m, columns, " "))
		}
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(columns, "\t")))
	for _, row := range rows {
		m, _ := row.(map[string]any)
		fmt.Fprintln(w, cells(m, columns, "\t"))
	}
	w.Flush()
}

func cells(m map[string]any, columns []string, sep string) string {
	vals := make([]string, len(columns))
	for i, c := range columns {
		if v, ok := m[c]; ok && v != nil {
			vals[i] = fmt.Sprintf("%v", v)
		} else {
			vals[i] = "-"
		}
	}
	return strings.Join(vals, sep)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			fmt.Fprintf(w, "%s\t%s\n", k, joinAny(val))
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, val)
		}
	}
	w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if m, ok := v.(map[string]any); ok {
			if data, err := json.Marshal(m); err == nil {
				parts[i] = string(data)
				continue
			}
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
