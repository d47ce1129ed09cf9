package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "custodychain",
	Short: "Chain-of-custody ledger and order tracking for regulated chemicals",
	Long: `An append-only proof-of-work ledger of chemical manufacture, sale, purchase and
usage records, together with the purchase-order lifecycle and the security-token
handshake that authorises a delivery.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML); CUSTODY_* env vars override it")

	rootCmd.AddCommand(serveCmd, submitCmd, sealCmd, verifyCmd, historyCmd)
}
