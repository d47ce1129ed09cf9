package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every block hash and check the chain links",
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ledger.VerifyChain(); err != nil {
		return fmt.Errorf("chain is invalid: %w", err)
	}
	fmt.Printf("Chain is valid: %d blocks, difficulty %d, tip %s\n",
		a.ledger.Len(), a.ledger.Difficulty(), a.ledger.Tip().Hash)
	return nil
}
