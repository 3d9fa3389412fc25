package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/cli/ui"
	"github.com/conduit-lang/entrymap/internal/orm/crud"
	"github.com/conduit-lang/entrymap/internal/orm/query"
)

var (
	filterFlags []string
	limitFlag   int
	countFlag   bool
	scopeFlag   string
)

// NewSearchCommand creates the search command
func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <base-dn>",
		Short: "List entries below a distinguished name",
		Long: `List the entries at or below a base distinguished name.

Each --filter name=value adds an equality condition; conditions are combined
with AND. --object-class restricts the result to entries holding every class.
--scope picks the base entry only (base), its direct children (one) or the
whole subtree (sub, the default).`,
		Example: `  # Every person below ou=people
  entrymap search ou=people,o=jans --object-class jansPerson

  # Active sessions, at most 10
  entrymap search ou=sessions,o=jans --filter jansState=active --limit 10

  # Direct children of o=jans
  entrymap search o=jans --scope one

  # Count only
  entrymap search o=jans --object-class jansPerson --count`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().StringArrayVar(&filterFlags, "filter", nil, "Equality condition name=value (repeatable)")
	cmd.Flags().StringSliceVar(&objectClassFlags, "object-class", nil, "Required object classes")
	cmd.Flags().StringSliceVar(&attrsFlag, "attrs", nil, "Attributes to read (default: all)")
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum number of entries (0 = no limit)")
	cmd.Flags().BoolVar(&countFlag, "count", false, "Print the number of matching entries only")
	cmd.Flags().StringVar(&scopeFlag, "scope", "sub", "Search scope (base, one, sub)")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, table, json)")

	return cmd
}

// parseFilters builds the AND of name=value equality conditions
func parseFilters(conditions []string) (*query.Filter, error) {
	if len(conditions) == 0 {
		return nil, nil
	}
	filters := make([]*query.Filter, 0, len(conditions))
	for _, c := range conditions {
		name, value, ok := strings.Cut(c, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid filter %q: expected name=value", c)
		}
		filters = append(filters, query.Equality(strings.TrimSpace(name), value))
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	return query.And(filters...), nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	baseDN := args[0]

	filter, err := parseFilters(filterFlags)
	if err != nil {
		ui.Warn(err.Error(), "--filter uid=bob").Fprint(cmd.ErrOrStderr(), noColor)
		return err
	}
	scope, err := backend.ParseScope(scopeFlag)
	if err != nil {
		ui.Warn(err.Error(), "--scope base", "--scope one", "--scope sub").Fprint(cmd.ErrOrStderr(), noColor)
		return err
	}

	env, err := newEnvironment(ctx, objectClassFlags)
	if err != nil {
		reportConfigError(cmd, err)
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()
	if countFlag {
		n, err := env.manager.CountEntriesInScope(ctx, &rawEntry{}, baseDN, scope, filter)
		if err != nil {
			reportEntryError(cmd, env, baseDN, err)
			return err
		}
		if outputFormat == "json" {
			return writeJSON(out, map[string]int{"count": n})
		}
		fmt.Fprintln(out, n)
		return nil
	}

	entries, err := crud.FindEntriesInScope[rawEntry](ctx, env.manager, baseDN, scope, filter, limitFlag, attrsFlag...)
	if err != nil {
		reportEntryError(cmd, env, baseDN, err)
		return err
	}

	results := make([]map[string]any, 0, len(entries))
	table := ui.NewTable(out, []string{"DN", "ATTRIBUTE", "VALUES"}, noColor)
	for i, entry := range entries {
		classes, err := env.manager.ObjectClasses(entry)
		if err != nil {
			return err
		}
		attrs := entry.attributeMap(classes)
		switch outputFormat {
		case "json":
			results = append(results, map[string]any{"dn": entry.DN, "attributes": attrs})
		case "table":
			addEntryRows(table, entry.DN, attrs)
		default:
			if i > 0 {
				fmt.Fprintln(out)
			}
			writeEntry(out, entry.DN, attrs)
		}
	}

	switch outputFormat {
	case "json":
		return writeJSON(out, results)
	case "table":
		if table.Len() > 0 {
			table.Render()
			return nil
		}
	}
	if len(entries) == 0 {
		ui.Inform(fmt.Sprintf("No entries below %s", baseDN)).Fprint(out, noColor)
	}
	return nil
}
