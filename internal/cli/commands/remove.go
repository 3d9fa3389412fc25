package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/entrymap/internal/cli/ui"
)

var (
	recursiveFlag bool
	yesFlag       bool
)

// ErrRemovalDeclined is returned when a subtree removal is not confirmed
var ErrRemovalDeclined = errors.New("subtree removal not confirmed")

// confirmRemoval asks on in whether count entries at or below dn may be
// removed. It fails without asking when in is not a terminal.
var confirmRemoval = func(in io.Reader, dn string, count int) (bool, error) {
	f, isFile := in.(*os.File)
	if !isFile || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return false, fmt.Errorf("%w: stdin is not a terminal, pass --yes", ErrRemovalDeclined)
	}
	ok := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Remove %d entries at or below %s?", count, dn),
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok, survey.WithStdio(f, os.Stderr, os.Stderr)); err != nil {
		return false, err
	}
	return ok, nil
}

// NewRemoveCommand creates the rm command
func NewRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <dn>",
		Short: "Remove an entry or a subtree",
		Long: `Remove one entry, or with --recursive the entry and every entry below it.

A recursive removal asks for confirmation first. Pass --yes to skip the
question in scripts; without a terminal and without --yes nothing is removed.`,
		Example: `  # Remove one entry
  entrymap rm uid=bob,ou=people,o=jans

  # Remove every entry at or below ou=sessions
  entrymap rm ou=sessions,o=jans --recursive --object-class jansSessn --yes`,
		Args: cobra.ExactArgs(1),
		RunE: runRemove,
	}

	cmd.Flags().BoolVarP(&recursiveFlag, "recursive", "r", false, "Remove the entry and everything below it")
	cmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Do not ask before a recursive removal")
	cmd.Flags().StringSliceVar(&objectClassFlags, "object-class", nil, "Object classes of the entry")

	return cmd
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dn := args[0]

	env, err := newEnvironment(ctx, objectClassFlags)
	if err != nil {
		reportConfigError(cmd, err)
		return err
	}
	defer env.Close()

	if !recursiveFlag {
		if err := env.manager.RemoveByKey(ctx, &rawEntry{}, dn); err != nil {
			reportEntryError(cmd, env, dn, err)
			return err
		}
		ui.Success(fmt.Sprintf("Removed %s", dn)).Fprint(cmd.OutOrStdout(), noColor)
		return nil
	}

	if !yesFlag {
		count, err := env.manager.CountEntriesByFilter(ctx, &rawEntry{}, dn, nil)
		if err != nil {
			reportEntryError(cmd, env, dn, err)
			return err
		}
		ok, err := confirmRemoval(cmd.InOrStdin(), dn, count)
		if err == nil && !ok {
			err = ErrRemovalDeclined
		}
		if err != nil {
			ui.Warn(err.Error(), "entrymap rm "+dn+" --recursive --yes").Fprint(cmd.ErrOrStderr(), noColor)
			return err
		}
	}

	if err := env.manager.RemoveRecursively(ctx, &rawEntry{}, dn); err != nil {
		reportEntryError(cmd, env, dn, err)
		return err
	}
	ui.Success(fmt.Sprintf("Removed %s and the entries below it", dn)).Fprint(cmd.OutOrStdout(), noColor)
	return nil
}
