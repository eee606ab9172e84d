package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/spf13/cobra"
)

func NewCmdVolumes() *cobra.Command {
	return &cobra.Command{
		Use:   "volumes",
		Short: "List the volumes known to the clone provider",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider := cow.FromContext(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFSTYPE\tCOW\tCLUSTER\tPATHS")

			for _, v := range provider.Volumes() {
				support, cluster := "no", "-"
				switch {
				case !v.Known:
					support = "unknown"
				case v.SupportsCoW:
					support = "yes"
					cluster = humanize.IBytes(uint64(v.ClusterSize))
				}

				fsType := v.FSType
				if fsType == "" {
					fsType = "-"
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, fsType, support, cluster, strings.Join(v.Paths, ", "))
			}

			return w.Flush()
		},
	}
}
