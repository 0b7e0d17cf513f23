package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dense-identity/callsig/internal/encryption"
	"github.com/dense-identity/callsig/internal/helpers"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a sealing key pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, pub, err := encryption.Keygen()
		if err != nil {
			return err
		}
		defer helpers.WipeBytes(priv)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "PKE_PRIVATE_KEY=%s\n", helpers.EncodeToHex(priv))
		fmt.Fprintf(out, "# public_key for contacts.yaml: %s\n", helpers.EncodeToHex(pub))
		return nil
	},
}
