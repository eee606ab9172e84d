package cli

import (
	"fmt"

	"github.com/gadget-inc/clonefs/internal/key"
	"github.com/gadget-inc/clonefs/internal/logger"
	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/spf13/cobra"
)

func NewCmdClone() *cobra.Command {
	var (
		skipIntegrity bool
		skipSparse    bool
		matchSparse   bool
		skipSerialize bool
	)

	cmd := &cobra.Command{
		Use:   "clone <source> <destination>",
		Short: "Create or overwrite destination as a copy-on-write clone of source",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider := cow.FromContext(ctx)
			source, destination := args[0], args[1]

			supported, err := provider.SupportedBetween(ctx, source, destination, false)
			if err != nil {
				return err
			}
			if !supported {
				return &ExitError{Code: ExitNotSupported, Err: errNotSupported}
			}

			flags := cow.None
			if skipIntegrity {
				flags |= cow.SkipIntegrityCheck
			}
			if skipSparse {
				flags |= cow.SkipSparseCheck
			}
			if matchSparse {
				flags |= cow.MatchSourceSparseness
			}
			if skipSerialize {
				flags |= cow.SkipSerialization
			}

			err = provider.Clone(ctx, source, destination, flags)
			if err != nil {
				return fmt.Errorf("clone %v to %v: %w", source, destination, err)
			}

			logger.Info(ctx, "cloned file", key.Source.Field(source), key.Destination.Field(destination), key.Flags.Field(flags.String()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipIntegrity, "skip-integrity-check", false, "Do not copy integrity and compression settings")
	cmd.Flags().BoolVar(&skipSparse, "skip-sparse-check", false, "Do not mark the destination sparse when the source is")
	cmd.Flags().BoolVar(&matchSparse, "match-sparseness", false, "Punch the source's holes into the destination")
	cmd.Flags().BoolVar(&skipSerialize, "no-serialize", false, "Do not wait for other clones")

	return cmd
}
