package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/gadget-inc/clonefs/pkg/cowtree"
	"github.com/spf13/cobra"
)

func NewCmdTree() *cobra.Command {
	var (
		workers int
		include []string
		verify  bool
	)

	cmd := &cobra.Command{
		Use:   "tree <source> <destination>",
		Short: "Clone every file of a directory tree",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider := cow.FromContext(ctx)
			source, destination := args[0], args[1]

			supported, err := provider.SupportedInTree(ctx, source, false)
			if err != nil {
				return err
			}
			if supported {
				supported, err = provider.SupportedBetween(ctx, source, destination, false)
				if err != nil {
					return err
				}
			}
			if !supported {
				return &ExitError{Code: ExitNotSupported, Err: errNotSupported}
			}

			opts := configFromContext(ctx).TreeOptions()
			flags := cmd.Flags()
			if flags.Changed("workers") {
				opts.Workers = workers
			}
			if flags.Changed("include") {
				opts.Include = include
			}
			if flags.Changed("verify") {
				opts.Verify = verify
			}

			summary, err := cowtree.Clone(ctx, provider, source, destination, opts)
			if err != nil {
				return fmt.Errorf("clone tree %v to %v: %w", source, destination, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cloned %s files (%s) and %s directories in %v\n",
				humanize.Comma(summary.Files),
				humanize.IBytes(uint64(summary.Bytes)),
				humanize.Comma(summary.Dirs),
				summary.Duration.Round(time.Millisecond),
			)
			if summary.Skipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "skipped %s entries\n", humanize.Comma(summary.Skipped))
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent walkers and clones (0 picks one per CPU)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Only clone files matching these globs, relative to the source")
	cmd.Flags().BoolVar(&verify, "verify", false, "Hash every clone and its source after cloning")

	return cmd
}
