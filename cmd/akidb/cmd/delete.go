package cmd

import (
	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "delete <collection> <doc-id>",
		Short: "Tombstone a document in a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := current.svc.ResolveByName(tenant, args[0])
			if err != nil {
				return err
			}
			if err := current.svc.Delete(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			current.out.Successf("deleted document %s", args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	return cmd
}
