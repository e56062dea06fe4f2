package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/pkg/models"
)

// newTokenCommand mints a JWT for a user against the configured secret,
// mainly for development and operational testing.
func newTokenCommand() *cobra.Command {
	var userID, email, name string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			svc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
			token, err := svc.Generate(&models.User{ID: userID, Email: email, Name: name})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to embed in the token")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "user display name")
	return cmd
}
