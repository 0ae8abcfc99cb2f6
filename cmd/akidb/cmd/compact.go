package cmd

import (
	"github.com/spf13/cobra"
)

func newCompactCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "compact <collection>",
		Short: "Force an immediate HNSW tombstone compaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := current.svc.ResolveByName(tenant, args[0])
			if err != nil {
				return err
			}
			stats, err := current.svc.Compact(id)
			if err != nil {
				return err
			}
			current.out.Successf("compacted %q: live=%d tombstoned=%d nodes=%d maxLevel=%d",
				args[0], stats.Live, stats.Tombstoned, stats.TotalNodes, stats.MaxLevel)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	return cmd
}
