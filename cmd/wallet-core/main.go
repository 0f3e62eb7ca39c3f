// Command wallet-core runs the threshold wallet core end to end as a local
// in-process simulation: every participant lives in the same process,
// wired together by an in-memory router, so keygen/sign/keystore can be
// exercised without standing up real network transport.
//
// Grounded on cmd/threshold-cli/main.go's cobra root + subcommand wiring
// and cmd/threshold-cli/simulations.go's looped local multi-party
// execution pattern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	keystoreDir string
	deviceID    string
	curveName   string
	threshold   int
	parties     int
	password    string
	walletID    string
	message     string
	signerIDs   []string

	rootCmd = &cobra.Command{
		Use:   "wallet-core",
		Short: "Threshold wallet core CLI",
		Long: `A CLI for the FROST threshold wallet core: local-simulation key
generation, threshold signing, and an encrypted keystore.`,
	}

	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Run a local-simulation DKG and save the resulting wallet",
		RunE:  runKeygen,
	}

	signCmd = &cobra.Command{
		Use:   "sign",
		Short: "Run a local-simulation threshold signature over a saved wallet",
		RunE:  runSign,
	}

	keystoreListCmd = &cobra.Command{
		Use:   "list",
		Short: "List wallets in the keystore",
		RunE:  runKeystoreList,
	}

	keystoreExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export a wallet as a portable bundle",
		RunE:  runKeystoreExport,
	}

	keystoreImportCmd = &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a portable bundle",
		RunE:  runKeystoreImport,
	}

	keystoreCmd = &cobra.Command{
		Use:   "keystore",
		Short: "Inspect and move wallets in the encrypted keystore",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&keystoreDir, "keystore-dir", "./wallet-core-data", "Keystore directory")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device-id", "local-device", "This device's keystore identity")

	keygenCmd.Flags().StringVar(&curveName, "curve", "secp256k1", "Curve: secp256k1 or ed25519")
	keygenCmd.Flags().IntVarP(&threshold, "threshold", "t", 2, "Signing threshold")
	keygenCmd.Flags().IntVarP(&parties, "parties", "n", 3, "Total simulated participants")
	keygenCmd.Flags().StringVar(&password, "password", "", "Keystore password (required)")
	keygenCmd.MarkFlagRequired("password")

	signCmd.Flags().StringVar(&walletID, "wallet-id", "", "Wallet to sign with (required)")
	signCmd.Flags().StringVar(&password, "password", "", "Keystore password (required)")
	signCmd.Flags().StringVar(&message, "message", "", "Message to sign (required)")
	signCmd.Flags().StringSliceVar(&signerIDs, "signer", nil, "Signer participant IDs (repeatable); defaults to the first threshold participants")
	signCmd.MarkFlagRequired("wallet-id")
	signCmd.MarkFlagRequired("password")
	signCmd.MarkFlagRequired("message")

	keystoreExportCmd.Flags().StringVar(&walletID, "wallet-id", "", "Wallet to export (required)")
	keystoreExportCmd.Flags().StringVar(&password, "password", "", "Keystore password (required)")
	keystoreExportCmd.MarkFlagRequired("wallet-id")
	keystoreExportCmd.MarkFlagRequired("password")

	keystoreImportCmd.Flags().StringVar(&password, "password", "", "Keystore password for the imported wallet (required)")
	keystoreImportCmd.MarkFlagRequired("password")

	keystoreCmd.AddCommand(keystoreListCmd, keystoreExportCmd, keystoreImportCmd)
	rootCmd.AddCommand(keygenCmd, signCmd, keystoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
