package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-import/internal/model"
	sfpkg "github.com/sells-group/crm-import/pkg/salesforce"
)

var (
	sfpushKind  string
	sfpushLimit int
)

var sfpushCmd = &cobra.Command{
	Use:   "sfpush",
	Short: "Push recently imported records to Salesforce",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("sfpush"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sf, err := initSalesforce()
		if err != nil {
			return err
		}

		var result sfpkg.PushResult
		switch model.EntityKind(sfpushKind) {
		case model.KindCompany:
			companies, err := st.RecentCompanies(ctx, sfpushLimit)
			if err != nil {
				return err
			}
			result, err = sfpkg.PushAccounts(ctx, sf, companies)
			if err != nil {
				return err
			}
		default:
			contacts, err := st.RecentContacts(ctx, sfpushLimit)
			if err != nil {
				return err
			}
			result, err = sfpkg.PushContacts(ctx, sf, contacts)
			if err != nil {
				return err
			}
		}

		for _, msg := range result.Errors {
			zap.L().Warn("salesforce record rejected", zap.String("reason", msg))
		}
		zap.L().Info("salesforce push complete",
			zap.String("kind", sfpushKind),
			zap.Int("pushed", result.Pushed),
			zap.Int("failed", result.Failed),
		)
		return nil
	},
}

func init() {
	sfpushCmd.Flags().StringVar(&sfpushKind, "kind", "contact", "entity kind: contact or company")
	sfpushCmd.Flags().IntVar(&sfpushLimit, "limit", 200, "maximum records to push")
	rootCmd.AddCommand(sfpushCmd)
}
