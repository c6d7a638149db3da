package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/isdmx/runbox/dispatcher"
)

var (
	subjectFlag string
	ttlFlag     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token for local testing",
	Long: `Mint a session token signed with SESSION_JWT_SECRET, for exercising the
Dispatcher without the login flow.

Examples:
  runbox token --subject alice
  curl -H "Authorization: Bearer $(runbox token --subject alice)" ...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		session := cfg.Dispatcher.Session
		token, err := dispatcher.IssueSession(session.JWTSecret, session.Issuer, subjectFlag, ttlFlag)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&subjectFlag, "subject", "", "session subject (required)")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}
