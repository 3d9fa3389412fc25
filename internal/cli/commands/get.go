package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/entrymap/internal/cli/ui"
	"github.com/conduit-lang/entrymap/internal/orm/crud"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
)

var (
	attrsFlag        []string
	objectClassFlags []string
)

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <dn>",
		Short: "Read one entry from the configured backend",
		Long: `Read the entry stored under a distinguished name and print its attributes.

The sql backend stores entries in one table per object class, so pass
--object-class to select the table.`,
		Example: `  # Read a person
  entrymap get uid=bob,ou=people,o=jans

  # Read two attributes as JSON
  entrymap get uid=bob,ou=people,o=jans --attrs uid,mail --format json

  # Read from the jansPerson table of the sql backend
  entrymap get uid=bob,ou=people,o=jans --object-class jansPerson`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}

	cmd.Flags().StringSliceVar(&attrsFlag, "attrs", nil, "Attributes to read (default: all)")
	cmd.Flags().StringSliceVar(&objectClassFlags, "object-class", nil, "Object classes of the entry")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dn := args[0]

	env, err := newEnvironment(ctx, objectClassFlags)
	if err != nil {
		reportConfigError(cmd, err)
		return err
	}
	defer env.Close()

	attrs, err := env.lookup(ctx, dn, attrsFlag...)
	if err != nil {
		reportEntryError(cmd, env, dn, err)
		return err
	}

	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"dn": dn, "attributes": attrs})
	}
	writeEntry(cmd.OutOrStdout(), dn, attrs)
	return nil
}

// reportEntryError renders a manager error for the user
func reportEntryError(cmd *cobra.Command, env *environment, dn string, err error) {
	var n ui.Notice
	switch {
	case crud.IsNotFound(err):
		n = ui.EntryMissing(dn)
	case keys.IsKeyConversionError(err), crud.IsMappingError(err):
		n = ui.InvalidKey(dn, err.Error())
	default:
		n = ui.BackendFailure(env.config.Backend.Type, err, "")
	}
	n.Fprint(cmd.ErrOrStderr(), noColor)
}
