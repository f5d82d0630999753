package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/theory/jsonpath"
)

// printer renders command results as text, json, or json-pretty, with an
// optional JSONPath filter applied first.
type printer struct {
	format string
	filter string
	w      io.Writer
}

func newPrinter(cmd *cobra.Command) *printer {
	format, _ := cmd.Flags().GetString("output-format")
	filter, _ := cmd.Flags().GetString("filter")
	return &printer{format: format, filter: filter, w: os.Stdout}
}

// print renders v per the configured format/filter. text mode expects v
// to already be a plain string or something with a sensible %v; JSON
// modes marshal v (after filtering) as JSON.
func (p *printer) print(v any) error {
	filtered, err := p.applyFilter(v)
	if err != nil {
		return err
	}

	switch p.format {
	case "json":
		return json.NewEncoder(p.w).Encode(filtered)
	case "json-pretty":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(filtered)
	default:
		return p.printText(filtered)
	}
}

func (p *printer) applyFilter(v any) (any, error) {
	if p.filter == "" {
		return v, nil
	}
	path, err := jsonpath.Parse(p.filter)
	if err != nil {
		return nil, fmt.Errorf("cli: parse jsonpath %q: %w", p.filter, err)
	}

	// jsonpath operates on decoded JSON values (map[string]any etc), so
	// round-trip v through JSON to get there regardless of its concrete
	// Go type.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cli: marshal for filter: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("cli: unmarshal for filter: %w", err)
	}

	matches := path.Select(generic)
	if len(matches) == 1 {
		return matches[0], nil
	}
	return matches, nil
}

func (p *printer) printText(v any) error {
	switch vv := v.(type) {
	case string:
		_, err := fmt.Fprintln(p.w, vv)
		return err
	case [][2]string:
		for _, pair := range vv {
			if _, err := fmt.Fprintf(p.w, "%s: %s\n", pair[0], pair[1]); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintf(p.w, "%v\n", vv)
		return err
	}
}
