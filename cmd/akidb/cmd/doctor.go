package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check every collection's index against the metadata catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			healthy := true
			for _, id := range current.svc.CollectionIDs() {
				indexIDs, err := current.svc.AllIDs(id)
				if err != nil {
					return err
				}
				catalogIDs, err := current.meta.AllDocumentIDs(cmd.Context(), id)
				if err != nil {
					return err
				}

				missing, extra := diffIDs(indexIDs, catalogIDs)
				if len(missing) == 0 && len(extra) == 0 {
					current.out.Successf("collection %s: %d documents, catalog matches index", id, len(indexIDs))
					continue
				}

				healthy = false
				current.out.Warningf("collection %s: catalog mismatch", id)
				for _, docID := range missing {
					fmt.Fprintf(cmd.OutOrStdout(), "  in index but not catalog: %s\n", docID)
				}
				for _, docID := range extra {
					fmt.Fprintf(cmd.OutOrStdout(), "  in catalog but not index: %s\n", docID)
				}
			}

			if !healthy {
				return fmt.Errorf("doctor found catalog/index inconsistencies")
			}
			return nil
		},
	}
	return cmd
}

// diffIDs returns ids present only in a (missing from b) and ids present
// only in b (extra relative to a).
func diffIDs(a, b []string) (onlyA, onlyB []string) {
	setA := make(map[string]struct{}, len(a))
	for _, id := range a {
		setA[id] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, id := range b {
		setB[id] = struct{}{}
	}
	for id := range setA {
		if _, ok := setB[id]; !ok {
			onlyA = append(onlyA, id)
		}
	}
	for id := range setB {
		if _, ok := setA[id]; !ok {
			onlyB = append(onlyB, id)
		}
	}
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	return onlyA, onlyB
}
