package cmd

import (
	"github.com/spf13/cobra"
)

func newDropCollectionCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "drop-collection <name>",
		Short: "Drain and permanently delete a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := current.svc.ResolveByName(tenant, args[0])
			if err != nil {
				return err
			}
			if err := current.svc.DropCollection(cmd.Context(), id); err != nil {
				return err
			}
			current.out.Successf("dropped collection %q", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	return cmd
}
