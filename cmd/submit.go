package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"custodychain/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	submitCompany  string
	submitChemical string
	submitQuantity string
	submitType     string
	submitSeal     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Add a chemical transaction to the pending pool",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitCompany, "company", "", "company ID")
	submitCmd.Flags().StringVar(&submitChemical, "chemical", "", "chemical type")
	submitCmd.Flags().StringVar(&submitQuantity, "quantity", "", "quantity (decimal)")
	submitCmd.Flags().StringVarP(&submitType, "type", "t", models.TxManufacture, "manufacture | sale | purchase | usage")
	submitCmd.Flags().BoolVar(&submitSeal, "seal", false, "seal a block right after submitting")

	submitCmd.MarkFlagRequired("company")
	submitCmd.MarkFlagRequired("chemical")
	submitCmd.MarkFlagRequired("quantity")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	qty, err := decimal.NewFromString(submitQuantity)
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", submitQuantity, err)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ref, err := a.miner.Submit(ctx, models.Transaction{
		CompanyID:       submitCompany,
		ChemicalType:    submitChemical,
		Quantity:        qty,
		TransactionType: submitType,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if !submitSeal {
		return enc.Encode(ref)
	}

	block, err := a.miner.SealNow(ctx)
	if err != nil {
		return err
	}
	return enc.Encode(block)
}
