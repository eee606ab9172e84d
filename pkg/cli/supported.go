package cli

import (
	"fmt"

	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/spf13/cobra"
)

func NewCmdSupported() *cobra.Command {
	return &cobra.Command{
		Use:   "supported <path> [destination]",
		Short: "Check whether files can be cloned between two paths, or anywhere within a tree",
		Long: `With one path, check that every file under it can be cloned to another
path under it. With two, check that the first can be cloned to the second.
Exits with code 3 when cloning is not supported.`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider := cow.FromContext(ctx)

			var (
				supported bool
				err       error
			)
			if len(args) == 1 {
				supported, err = provider.SupportedInTree(ctx, args[0], false)
			} else {
				supported, err = provider.SupportedBetween(ctx, args[0], args[1], false)
			}
			if err != nil {
				return err
			}

			if !supported {
				fmt.Fprintln(cmd.OutOrStdout(), "not supported")
				return &ExitError{Code: ExitNotSupported, Err: errNotSupported}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "supported")
			return nil
		},
	}
}
