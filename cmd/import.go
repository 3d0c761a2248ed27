package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-import/internal/importer"
	"github.com/sells-group/crm-import/internal/model"
)

var (
	importFilePath       string
	importKind           string
	importUpdateExisting bool
	importKeepDuplicates bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a local CSV or XLSX file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		svc := initService(st)

		// The service deletes its input when the job ends, so hand it a
		// copy rather than the user's file.
		path, err := copyToTemp(importFilePath, cfg.Import.TempDir)
		if err != nil {
			return eris.Wrap(err, "copy import file")
		}

		opts := model.ImportOptions{
			SkipDuplicates: !importKeepDuplicates,
			UpdateExisting: importUpdateExisting,
			BatchSize:      cfg.Import.BatchSize,
		}
		job, err := svc.StartImport(ctx, path, filepath.Base(importFilePath), model.EntityKind(importKind), nil, opts)
		if err != nil {
			return err
		}
		return followJob(ctx, svc, job)
	},
}

// followJob prints live progress until the job reaches a terminal state.
func followJob(ctx context.Context, svc *importer.Service, job *model.ImportJob) error {
	frames, cancel := svc.Subscribe(job.ID)
	defer cancel()

	fmt.Printf("job %s: %d rows\n", job.ID, job.TotalRows)

	// The job runs on its own goroutine and may have published its
	// terminal frame before the subscription landed; no more frames come
	// after that, so the persisted record settles it.
	if cur, err := svc.GetJob(ctx, job.ID); err == nil && cur.Status.Terminal() {
		frame := snapshotFrame(cur)
		if cur.Status == model.JobFailed && len(cur.Errors) > 0 {
			frame.Message = cur.Errors[0].Message
		}
		return reportFinal(frame)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, open := <-frames:
			if !open {
				return nil
			}
			if frame.Terminal() {
				return reportFinal(frame)
			}
			printProgress(frame)
		}
	}
}

func printProgress(frame model.ProgressFrame) {
	fmt.Printf("\r%d/%d processed (%d ok, %d dup, %d upd, %d err)",
		frame.ProcessedRows, frame.TotalRows, frame.SuccessfulRows,
		frame.DuplicateRows, frame.UpdatedRows, frame.ErrorRows)
}

func reportFinal(frame model.ProgressFrame) error {
	printProgress(frame)
	fmt.Println()
	if frame.Summary != "" {
		fmt.Println(frame.Summary)
	}
	if frame.Status == model.JobFailed {
		if frame.Message != "" {
			return eris.Errorf("import failed: %s", frame.Message)
		}
		return eris.New("import failed")
	}
	zap.L().Info("import complete",
		zap.String("job_id", frame.JobID),
		zap.Int("successful", frame.SuccessfulRows),
	)
	return nil
}

func copyToTemp(path, tempDir string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp(tempDir, "import-*"+filepath.Ext(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to CSV or XLSX file (required)")
	importCmd.Flags().StringVar(&importKind, "kind", "contact", "entity kind: contact or company")
	importCmd.Flags().BoolVar(&importUpdateExisting, "update-existing", false, "fill empty fields on matched records")
	importCmd.Flags().BoolVar(&importKeepDuplicates, "keep-duplicates", false, "insert duplicate rows instead of skipping them")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
