package main

import (
	"errors"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/mentorcertai/cert-issuer/internal/wallet"
)

var classHash string

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Create student wallets",
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a wallet key encrypted with WALLET_PASSPHRASE",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if classHash == "" {
			return errors.New("--class-hash is required")
		}
		c, err := wallet.NewCipher(os.Getenv("WALLET_PASSPHRASE"))
		if err != nil {
			return err
		}
		material, err := wallet.NewVault(c, common.HexToHash(classHash)).New()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"encryptedKey":   material.EncryptedKey,
			"ownerAddress":   material.Owner.Hex(),
			"accountAddress": material.Account.Hex(),
		})
	},
}

func init() {
	walletNewCmd.Flags().StringVar(&classHash, "class-hash", "", "account class hash")
	walletCmd.AddCommand(walletNewCmd)
	rootCmd.AddCommand(walletCmd)
}
