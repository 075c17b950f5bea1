package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isometry/dirsync/internal/config"
	"github.com/isometry/dirsync/internal/secret"
)

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a proxy password for storage in configuration",
		Long: "Encrypts a proxy password with the AES key from " + config.SecretKeyEnv +
			" so it can be stored as proxy_password with proxy_password_encrypted: true.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := os.Getenv(config.SecretKeyEnv)
			if raw == "" {
				return fmt.Errorf("%s is not set", config.SecretKeyEnv)
			}
			key, err := secret.ParseKey(raw)
			if err != nil {
				return err
			}

			encrypted, err := secret.Encrypt(key, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), encrypted)
			return nil
		},
	}
}
