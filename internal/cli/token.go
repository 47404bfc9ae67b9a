package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/walletwise/walletwise/backend/internal/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Sign a bearer token for a user with JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is not set")
		}
		token, err := auth.SignToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
