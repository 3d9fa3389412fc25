package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/cli/ui"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/crud"
)

var skipExistingFlag bool

// NewImportCommand creates the import command
func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import entries from a JSON document file",
		Long: `Import entries from a JSON array of documents, the format the s3 backend
stores:

  [{"dn": "uid=bob,ou=people,o=jans",
    "objectClasses": ["jansPerson"],
    "attributes": [{"name": "uid", "values": ["bob"]}]}]

Use - to read from standard input. The sql backend needs --object-class to
select the table.`,
		Example: `  # Import into the configured backend
  entrymap import people.json --object-class jansPerson

  # Re-run an import, keeping entries that already exist
  entrymap import people.json --skip-existing`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().StringSliceVar(&objectClassFlags, "object-class", nil, "Object classes of the imported entries")
	cmd.Flags().BoolVar(&skipExistingFlag, "skip-existing", false, "Skip entries that already exist")

	return cmd
}

func readDocuments(path string, stdin io.Reader) ([]backend.Document, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var docs []backend.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return docs, nil
}

// documentAttributes converts a document to the attribute set to import
func documentAttributes(doc backend.Document) []*attribute.Data {
	attrs := make([]*attribute.Data, 0, len(doc.Attributes)+1)
	for _, a := range doc.Attributes {
		attrs = append(attrs, a.Data())
	}
	if len(doc.ObjectClasses) > 0 && attribute.Find(attrs, attribute.ObjectClass) == nil {
		attrs = append(attrs, attribute.NewMultiValued(attribute.ObjectClass, true, stringValues(doc.ObjectClasses)...))
	}
	return attrs
}

func stringValues(values []string) []any {
	result := make([]any, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	docs, err := readDocuments(args[0], cmd.InOrStdin())
	if err != nil {
		ui.Warn(err.Error()).Fprint(cmd.ErrOrStderr(), noColor)
		return err
	}

	env, err := newEnvironment(ctx, objectClassFlags)
	if err != nil {
		reportConfigError(cmd, err)
		return err
	}
	defer env.Close()

	tally := ui.NewTally(cmd.ErrOrStderr(), "Importing entries", len(docs), noColor)
	for _, doc := range docs {
		err := env.manager.ImportEntry(ctx, doc.DN, &rawEntry{}, documentAttributes(doc))
		if skipExistingFlag && crud.IsEntryExists(err) {
			tally.Count(true)
			continue
		}
		if err != nil {
			tally.Interrupt()
			reportEntryError(cmd, env, doc.DN, err)
			return err
		}
		tally.Count(false)
	}
	tally.Finish()

	message := fmt.Sprintf("Imported %d entries", tally.Written())
	if tally.Skipped() > 0 {
		message += fmt.Sprintf(" (%d skipped)", tally.Skipped())
	}
	ui.Success(message).Fprint(cmd.OutOrStdout(), noColor)
	return nil
}
