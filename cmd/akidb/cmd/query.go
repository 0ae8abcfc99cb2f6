package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/akidb/akidb/internal/collection"
	akierrors "github.com/akidb/akidb/internal/errors"
)

func newQueryCmd() *cobra.Command {
	var (
		tenant    string
		vectorCSV string
		text      string
		k         int
		ef        int
		deadline  int
		format    string
		filter    string
	)

	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Run a k-nearest-neighbor query against a collection",
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
			if ef <= 0 {
				ef = current.cfg.Query.DefaultEf
			}
			deadlineMs := deadline
			if deadlineMs <= 0 {
				deadlineMs = current.cfg.Query.DefaultDeadlineMs
			}

			payloadFilter, err := parseFilter(filter)
			if err != nil {
				return err
			}

			res, err := current.svc.Query(cmd.Context(), id, collection.QueryRequest{
				Vector:   vec,
				Text:     text,
				K:        k,
				Ef:       ef,
				Filter:   payloadFilter,
				Deadline: time.Duration(deadlineMs) * time.Millisecond,
			})
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			for _, hit := range res.Hits {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tdistance=%.6f\tscore=%.6f\n", hit.ID, hit.Distance, hit.Score)
			}
			if res.Truncated {
				current.out.Warning("results truncated")
			}
			if res.DeadlineExceeded {
				current.out.Warning("query deadline exceeded; results may be partial")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&vectorCSV, "vector", "", "comma-separated query vector")
	cmd.Flags().StringVar(&text, "text", "", "text to embed as the query (alternative to --vector)")
	cmd.Flags().IntVarP(&k, "k", "k", 10, "number of nearest neighbors to return")
	cmd.Flags().IntVar(&ef, "ef", 0, "HNSW search breadth (defaults to query.default_ef)")
	cmd.Flags().IntVar(&deadline, "deadline-ms", 0, "query deadline in milliseconds (defaults to query.default_deadline_ms)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text|json")
	cmd.Flags().StringVar(&filter, "filter", "", "structured post-filter \"key=value\" matched against the JSON payload")

	return cmd
}

// parseFilter builds a payload predicate from a "key=value" expression,
// matching documents whose JSON-decoded payload has key set to value. An
// empty expression means no filter. Payloads that fail to decode as JSON
// never match a filter.
func parseFilter(expr string) (func(payload []byte) bool, error) {
	if expr == "" {
		return nil, nil
	}
	key, value, ok := strings.Cut(expr, "=")
	if !ok {
		return nil, akierrors.New(akierrors.InvalidInput, "--filter must be in the form key=value")
	}
	return func(payload []byte) bool {
		var fields map[string]any
		if err := json.Unmarshal(payload, &fields); err != nil {
			return false
		}
		v, ok := fields[key]
		if !ok {
			return false
		}
		return fmt.Sprint(v) == value
	}, nil
}
