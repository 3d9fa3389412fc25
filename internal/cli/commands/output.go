package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/entrymap/internal/cli/config"
	"github.com/conduit-lang/entrymap/internal/cli/ui"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeEntry prints an entry with its attributes sorted by name
func writeEntry(w io.Writer, dn string, attrs map[string][]string) {
	view := ui.NewEntryView(w, dn, noColor)
	for _, name := range sortedNames(attrs) {
		view.Add(name, attrs[name])
	}
	view.Render()
}

// addEntryRows adds one table row per attribute; the dn fills the first row only
func addEntryRows(table *ui.Table, dn string, attrs map[string][]string) {
	first := dn
	for _, name := range sortedNames(attrs) {
		table.AddRow(first, name, strings.Join(attrs[name], ui.ValueSeparator))
		first = ""
	}
	if first != "" {
		table.AddRow(first)
	}
}

// sortedNames returns the map keys ordered case-insensitively
func sortedNames(attrs map[string][]string) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// reportConfigError prints a configuration failure, suggesting the closest
// accepted value for an invalid setting
func reportConfigError(cmd *cobra.Command, err error) {
	var fixes []string
	var ve *config.ValidationError
	if errors.As(err, &ve) && len(ve.Allowed) > 0 {
		if match := ui.FindBestMatch(ve.Value, ve.Allowed, nil); match != "" {
			fixes = append(fixes, fmt.Sprintf("%s: %s", ve.Field, match))
		}
	}
	ui.InvalidConfig(err, fixes).Fprint(cmd.ErrOrStderr(), noColor)
}
