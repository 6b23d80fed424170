package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// table is the printable form of every command result.
type table struct {
	Columns []string `json:"columns" yaml:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
}

// printable converts driver values to values that print the same in every
// output format.
func printable(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *big.Rat:
		if x.IsInt() {
			return x.RatString()
		}
		return x.FloatString(10)
	}
	return v
}

func render(w io.Writer, t table) error {
	switch outputFormat {
	case "json":
		out, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	}

	tw := tablewriter.NewWriter(w)
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	tw.Header(header...)
	for _, row := range t.Rows {
		cells := make([]any, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		if err := tw.Append(cells...); err != nil {
			return err
		}
	}
	return tw.Render()
}

// parseArgs converts command line arguments to statement arguments. \N is
// SQL NULL; integers and decimals become numbers; everything else is text.
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = parseArg(a)
	}
	return out
}

func parseArg(a string) any {
	if a == `\N` {
		return nil
	}
	if strings.ContainsAny(a, ".eE") {
		if f, err := cast.ToFloat64E(a); err == nil {
			return f
		}
		return a
	}
	if n, err := cast.ToInt64E(a); err == nil && a != "" {
		return n
	}
	return a
}
