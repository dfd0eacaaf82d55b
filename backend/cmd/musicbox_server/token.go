package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"musicboxServer/backend/internal/auth"
)

const (
	FlagUserID   = "user-id"
	FlagUsername = "username"
	FlagTTL      = "ttl"
)

// GetTokenCmd 用 auth.secret 签发一个 access token，给配套 App 或调试用
func GetTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return errors.New("auth.secret is empty, authentication is disabled")
			}
			userID, err := cmd.Flags().GetUint64(FlagUserID)
			if err != nil {
				return err
			}
			username, err := cmd.Flags().GetString(FlagUsername)
			if err != nil {
				return err
			}
			ttl, err := cmd.Flags().GetDuration(FlagTTL)
			if err != nil {
				return err
			}

			token, expiresAt, err := auth.NewVerifier(cfg.Auth.Secret).SignAccessToken(userID, username, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			cmd.PrintErrf("expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Uint64(FlagUserID, 1, "(optional) subject user id")
	cmd.Flags().String(FlagUsername, "musicbox", "(optional) username claim")
	cmd.Flags().Duration(FlagTTL, 24*time.Hour, "(optional) token lifetime")
	return cmd
}
