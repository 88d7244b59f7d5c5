package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxqa/internal/session"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a session encryption key",
		Long: `Print a random AES-256 key, base64 encoded, for use with
--session-encryption-key or SESSION_ENCRYPTION_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := session.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), session.KeyToBase64(key))
			return err
		},
	}
}
