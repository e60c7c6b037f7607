package cmd

import (
	"errors"
	"fmt"
	"time"

	"TrackHub/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

// tokenCmd issues development tokens signed with JWT_SECRET.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发开发用 JWT",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET 未设置")
		}
		if tokenSubject == "" {
			return errors.New("需要指定 --sub")
		}
		tok, err := auth.GenerateToken(tokenSubject, cfg.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "owner profile id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "有效期")
}
