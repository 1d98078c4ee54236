package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentorcertai/cert-issuer/internal/credential"
	"github.com/mentorcertai/cert-issuer/internal/merkle"
)

var merkleCmd = &cobra.Command{
	Use:   "merkle",
	Short: "Build and check Merkle batches of credentials",
}

var merkleBuildCmd = &cobra.Command{
	Use:   "build <documents.json|->",
	Short: "Print the root and per-document proofs of a JSON array of documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		var docs []json.RawMessage
		if err := json.Unmarshal(raw, &docs); err != nil {
			return fmt.Errorf("expected a JSON array of documents: %w", err)
		}

		canonical := make([][]byte, len(docs))
		for i, doc := range docs {
			var v any
			if err := json.Unmarshal(doc, &v); err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			if canonical[i], err = credential.Canonical(v); err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
		}

		tree, err := merkle.FromDocuments(canonical)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			MerkleRoot string         `json:"merkleRoot"`
			Proofs     []merkle.Proof `json:"proofs"`
		}{tree.HexRoot(), tree.Proofs()})
	},
}

var merkleVerifyCmd = &cobra.Command{
	Use:   "verify <package.json|->",
	Short: "Check the Merkle proof of an anchor package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		var pkg credential.Package
		if err := json.Unmarshal(raw, &pkg); err != nil {
			return fmt.Errorf("failed to parse package: %w", err)
		}
		if pkg.MerkleRoot == "" {
			return errors.New("package has no merkle root")
		}

		canonical, err := credential.Canonical(pkg.Certificate)
		if err != nil {
			return err
		}
		target := merkle.LeafHash(canonical)
		if fmt.Sprintf("%#x", target) != pkg.TargetHash {
			return fmt.Errorf("target hash %s does not match document hash %#x", pkg.TargetHash, target)
		}
		if !merkle.VerifyHex(pkg.TargetHash, pkg.Proof, pkg.MerkleRoot) {
			return errors.New("proof does not lead to merkle root")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "valid")
		return nil
	},
}

func init() {
	merkleCmd.AddCommand(merkleBuildCmd, merkleVerifyCmd)
	rootCmd.AddCommand(merkleCmd)
}
