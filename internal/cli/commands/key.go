package commands

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/entrymap/internal/cli/config"
	"github.com/conduit-lang/entrymap/internal/cli/ui"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
)

var keyAllRDNFlag bool

// NewKeyCommand creates the key command
func NewKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key <dn>",
		Short: "Convert a distinguished name to its flat storage key",
		Long: `Convert a distinguished name to the flat key used by the redis and s3
backends. Organization segments (o=...) select the key scope; o=jans is the
root organization and has no scope.`,
		Example: `  # Print the key of a person entry
  entrymap key uid=bob,ou=people,o=acme

  # Use only the leaf segment
  entrymap key uid=bob,ou=people,o=acme --all-rdn=false`,
		Args: cobra.ExactArgs(1),
		RunE: runKey,
	}

	cmd.Flags().BoolVar(&keyAllRDNFlag, "all-rdn", true, "Build the key from every segment (overrides keys.use_all_rdn)")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")

	return cmd
}

func runKey(cmd *cobra.Command, args []string) error {
	useAllRDN := keyAllRDNFlag
	if !cmd.Flags().Changed("all-rdn") {
		cfg, err := config.Load(configPath)
		if err != nil {
			reportConfigError(cmd, err)
			return err
		}
		useAllRDN = cfg.Keys.UseAllRDN
	}

	parsed, err := keys.NewConverter(useAllRDN).Parse(args[0])
	if err != nil {
		reason := err.Error()
		var convErr *keys.KeyConversionError
		if errors.As(err, &convErr) {
			reason = convErr.Reason
		}
		ui.InvalidKey(args[0], reason).Fprint(cmd.ErrOrStderr(), noColor)
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, map[string]string{
			"key":      parsed.Key,
			"name":     parsed.Name,
			"orgScope": parsed.OrgScope,
		})
	}

	labelColor := color.New(color.FgCyan, color.Bold)
	labelColor.Fprint(out, "Key: ")
	fmt.Fprintln(out, parsed.Key)
	labelColor.Fprint(out, "Name: ")
	fmt.Fprintln(out, parsed.Name)
	if parsed.OrgScope != "" {
		labelColor.Fprint(out, "Scope: ")
		fmt.Fprintln(out, parsed.OrgScope)
	}
	return nil
}
