package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var historyCompany string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List sealed transactions for a company, oldest first",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyCompany, "company", "", "company ID")
	historyCmd.MarkFlagRequired("company")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	txs := a.ledger.TransactionHistory(historyCompany)
	if len(txs) == 0 {
		fmt.Printf("No sealed transactions for %s\n", historyCompany)
		return nil
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "TYPE", "CHEMICAL", "QUANTITY").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 3 {
				return cellStyle.Align(lipgloss.Right)
			}
			return cellStyle
		})
	for _, tx := range txs {
		t.Row(
			time.UnixMilli(tx.Timestamp).UTC().Format(time.RFC3339),
			tx.TransactionType, tx.ChemicalType, tx.Quantity.String())
	}
	fmt.Println(t)

	if a.db == nil {
		return nil
	}
	volumes, err := a.db.CompanyVolumes(ctx, historyCompany)
	if err != nil {
		return fmt.Errorf("failed to read indexed volumes: %w", err)
	}
	kinds := make([]string, 0, len(volumes))
	for kind := range volumes {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	fmt.Println("\nIndexed totals:")
	for _, kind := range kinds {
		fmt.Printf("  %-12s %s\n", kind, volumes[kind].String())
	}
	return nil
}
