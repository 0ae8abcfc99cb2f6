package cmd

import (
	"github.com/spf13/cobra"

	"github.com/akidb/akidb/internal/collection"
)

func newCreateCollectionCmd() *cobra.Command {
	var (
		tenant    string
		dimension int
		metric    string
		indexType string
		hnswM     int
		hnswEfC   int
		hnswEfS   int
	)

	cmd := &cobra.Command{
		Use:   "create-collection <name>",
		Short: "Create a new vector collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := collection.CreateSpec{
				TenantID:     tenant,
				Name:         args[0],
				Dimension:    dimension,
				Metric:       metric,
				IndexType:    collection.IndexType(indexType),
				HNSWM:        hnswM,
				HNSWEfConstr: hnswEfC,
				HNSWEfSearch: hnswEfS,
			}
			id, err := current.svc.CreateCollection(cmd.Context(), spec)
			if err != nil {
				return err
			}
			current.out.Successf("created collection %q (id=%s)", args[0], id)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	cmd.Flags().IntVar(&dimension, "dimension", 0, "vector dimension (required)")
	cmd.Flags().StringVar(&metric, "metric", "cosine", "distance metric: cosine|l2|dot")
	cmd.Flags().StringVar(&indexType, "index", "hnsw", "index type: hnsw|bruteforce")
	cmd.Flags().IntVar(&hnswM, "hnsw-m", 0, "override hnsw.m for this collection")
	cmd.Flags().IntVar(&hnswEfC, "hnsw-ef-construction", 0, "override hnsw.ef_construction for this collection")
	cmd.Flags().IntVar(&hnswEfS, "hnsw-ef-search", 0, "override hnsw.ef_search for this collection")
	cmd.MarkFlagRequired("dimension")

	return cmd
}
