package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
)

// newTokenCmd выпускает токен для локальной разработки и ручных проверок API
func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for a user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			r := models.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid --role %q", role)
			}

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := authz.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl).Issue(models.Actor{UserID: id, Role: r})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (UUID)")
	cmd.Flags().StringVar(&role, "role", string(models.RoleMember), "global role: super_admin, team_lead, member, read_only")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.token_ttl")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
