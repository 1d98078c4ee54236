package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentorcertai/cert-issuer/internal/credential"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Inspect Blockcerts credentials",
}

var credentialValidateCmd = &cobra.Command{
	Use:   "validate <credential.json|->",
	Short: "Validate a credential document against the issued shape",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		if err := credential.ValidateBytes(raw); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "valid")
		return nil
	},
}

func init() {
	credentialCmd.AddCommand(credentialValidateCmd)
	rootCmd.AddCommand(credentialCmd)
}
