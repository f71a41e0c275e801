package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/identity"
)

type tokenOutput struct {
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newAccessCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "access",
		Short: "Mint a bearer token for an account id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(userID); err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AccessTokenTTL
			}

			signer, err := identity.NewSigner(cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			tok, exp, err := signer.Issue(userID, email)
			if err != nil {
				return err
			}
			return writeJSON(tokenOutput{Kind: "access", Subject: userID, Token: tok, ExpiresAt: exp})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Account UUID (required)")
	cmd.Flags().StringVar(&email, "email", "", "E-mail claim (informational)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to ACCESS_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newConfirmCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Mint a single-use confirmation token for an e-mail address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.ConfirmTokenTTL
			}

			ct, err := accounts.NewTokens(cfg.JWTSecret, ttl).IssueConfirmation(email)
			if err != nil {
				return err
			}
			return writeJSON(tokenOutput{Kind: "confirm", Subject: ct.Email, Token: ct.Token, ExpiresAt: ct.ExpiresAt})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account e-mail (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to CONFIRM_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
