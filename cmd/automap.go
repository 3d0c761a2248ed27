package main

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-import/internal/importer"
	"github.com/sells-group/crm-import/internal/mapper"
	"github.com/sells-group/crm-import/internal/model"
)

var automapKind string

var automapCmd = &cobra.Command{
	Use:   "automap <file>",
	Short: "Preview the header mapping for a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := model.EntityKind(automapKind)
		if !kind.Valid() {
			return eris.Errorf("unknown entity kind %q", automapKind)
		}

		rs, err := importer.Open(args[0])
		if err != nil {
			return err
		}
		defer rs.Close()

		headers := rs.Headers()
		if len(headers) == 0 {
			return eris.New("file has no header row")
		}

		result := mapper.AutoMap(headers, kind)

		mapped := make([]string, 0, len(result.Mapping))
		for header := range result.Mapping {
			mapped = append(mapped, header)
		}
		sort.Strings(mapped)

		for _, header := range mapped {
			fmt.Printf("%-30s -> %-15s (%.2f)\n", header, result.Mapping[header], result.Confidence[header])
		}
		for _, header := range headers {
			if _, ok := result.Mapping[header]; ok {
				continue
			}
			fmt.Printf("%-30s -> (unmapped)\n", header)
			for _, s := range result.Suggestions[header] {
				fmt.Printf("  suggestion: %s (%.2f)\n", s.Field, s.Score)
			}
		}
		return nil
	},
}

func init() {
	automapCmd.Flags().StringVar(&automapKind, "kind", "contact", "entity kind: contact or company")
	rootCmd.AddCommand(automapCmd)
}
