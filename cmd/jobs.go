package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent import jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(ctx, jobsLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no import jobs")
			return nil
		}

		for _, job := range jobs {
			fmt.Printf("%s  %-10s %-8s %-30s %d/%d rows (%d ok, %d dup, %d upd, %d err)  %s\n",
				job.ID, string(job.Status), string(job.Kind), job.Filename,
				job.ProcessedRows, job.TotalRows, job.SuccessfulRows,
				job.DuplicateRows, job.UpdatedRows, job.ErrorRows,
				job.CreatedAt.Format(time.RFC3339),
			)
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
