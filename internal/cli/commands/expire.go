package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	sqlbackend "github.com/conduit-lang/entrymap/internal/backend/sql"
	"github.com/conduit-lang/entrymap/internal/cli/ui"
)

// NewExpireCommand creates the expire command
func NewExpireCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete expired rows from sql backend tables",
		Long: `Delete the rows whose expiration passed from the table of each object class.

Only the sql backend needs this: redis expires keys natively and the memory
and s3 backends hide expired entries on read.`,
		Example: `  entrymap expire --object-class jansSessn --object-class jansToken`,
		Args:    cobra.NoArgs,
		RunE:    runExpire,
	}

	cmd.Flags().StringSliceVar(&objectClassFlags, "object-class", nil, "Object classes whose tables are swept")
	_ = cmd.MarkFlagRequired("object-class")

	return cmd
}

func runExpire(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := newEnvironment(ctx, nil)
	if err != nil {
		reportConfigError(cmd, err)
		return err
	}
	defer env.Close()

	sweeper, ok := env.manager.Backend().(*sqlbackend.Backend)
	if !ok {
		ui.Inform(fmt.Sprintf("The %s backend expires entries itself", env.config.Backend.Type)).Fprint(cmd.OutOrStdout(), noColor)
		return nil
	}

	status := ui.StartStatus(cmd.ErrOrStderr(), "Sweeping", noColor)

	removed := make([]int64, 0, len(objectClassFlags))
	for _, class := range objectClassFlags {
		status.Set(fmt.Sprintf("Sweeping %s", class))
		n, err := sweeper.RemoveExpired(ctx, class)
		if err != nil {
			status.Stop()
			ui.BackendFailure(env.config.Backend.Type, err, "remaining tables were not swept").Fprint(cmd.ErrOrStderr(), noColor)
			return err
		}
		removed = append(removed, n)
	}
	status.Stop()

	for i, class := range objectClassFlags {
		ui.Success(fmt.Sprintf("Removed %d expired %s entries", removed[i], class)).Fprint(cmd.OutOrStdout(), noColor)
	}
	return nil
}
