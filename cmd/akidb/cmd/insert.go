package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	akierrors "github.com/akidb/akidb/internal/errors"
)

func newInsertCmd() *cobra.Command {
	var (
		tenant    string
		docID     string
		vectorCSV string
		text      string
		payload   string
	)

	cmd := &cobra.Command{
		Use:   "insert <collection>",
		Short: "Insert or upsert a document into a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if vectorCSV == "" && text == "" {
				return akierrors.New(akierrors.InvalidInput, "one of --vector or --text is required")
			}

			id, err := current.svc.ResolveByName(tenant, args[0])
			if err != nil {
				return err
			}

			var vec []float32
			if vectorCSV != "" {
				vec, err = parseVectorCSV(vectorCSV)
				if err != nil {
					return err
				}
			}

			got, err := current.svc.Insert(cmd.Context(), id, docID, vec, text, []byte(payload))
			if err != nil {
				return err
			}
			current.out.Successf("inserted document %s", got)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&docID, "id", "", "document id (generated if omitted)")
	cmd.Flags().StringVar(&vectorCSV, "vector", "", "comma-separated vector components")
	cmd.Flags().StringVar(&text, "text", "", "text to embed via the configured provider (alternative to --vector)")
	cmd.Flags().StringVar(&payload, "payload", "", "opaque payload bytes to store alongside the vector")

	return cmd
}

func parseVectorCSV(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, akierrors.Wrap(akierrors.InvalidInput, "parse vector component", err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
