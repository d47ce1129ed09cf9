package cmd

import (
	"fmt"

	"custodychain/internal/ui"
	"custodychain/pkg/models"

	"github.com/spf13/cobra"
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal the pending pool into a new block",
	RunE:  runSeal,
}

func runSeal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	type result struct {
		block *models.Block
		err   error
	}
	done := make(chan result, 1)
	go func() {
		block, err := a.miner.SealNow(ctx)
		done <- result{block, err}
	}()

	if err := ui.RunProgressUI(ctx, a.miner.GetProgressChannel()); err != nil {
		return err
	}

	res := <-done
	if res.err != nil {
		return res.err
	}
	fmt.Printf("Block %d sealed with %d transactions, nonce %d\n", res.block.Index, len(res.block.Transactions), res.block.Nonce)
	return nil
}
