// cmd/server/keygen.go
package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jason-s-yu/tourney/internal/auth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newKeygenCmd() *cobra.Command {
	var authDir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a game-server signing key, and optionally session token keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate signing key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SERVER_PRIVATE_KEY=%s\n", hexutil.Encode(crypto.FromECDSA(key)))
			fmt.Fprintf(out, "# game server address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())

			if authDir == "" {
				return nil
			}
			pub, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				return fmt.Errorf("generate auth keys: %w", err)
			}
			if err := os.MkdirAll(authDir, 0o700); err != nil {
				return err
			}
			privPath, pubPath := filepath.Join(authDir, "auth_ed25519"), filepath.Join(authDir, "auth_ed25519.pub")
			if err := os.WriteFile(privPath, priv, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "AUTH_PRIVATE_KEY_PATH=%s\nAUTH_PUBLIC_KEY_PATH=%s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&authDir, "auth-dir", "", "also write an ed25519 session key pair to this directory")
	return cmd
}

func newTokenCmd(v *viper.Viper) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a session token carrying the game-server role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.AuthPrivateKeyPath == "" {
				return fmt.Errorf("AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH are required to mint tokens the server accepts")
			}
			ttl, err := auth.ParseTTL(cfg.TokenExpireTime)
			if err != nil {
				return err
			}
			if err := auth.InitFromPath(cfg.AuthPrivateKeyPath, cfg.AuthPublicKeyPath, ttl); err != nil {
				return err
			}
			tok, err := auth.CreateServerJWT(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "game-server", "token subject")
	return cmd
}
