// Package cmd - boq command
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tender-cost/adapters/storage"
	"tender-cost/audit"
	"tender-cost/core/boq"
	"tender-cost/core/calc"
	"tender-cost/core/events"
	"tender-cost/core/model"
	"tender-cost/core/persist"
	"tender-cost/core/state"
	"tender-cost/internal/config"
	"tender-cost/internal/logging"
)

var (
	boqFormat  string
	boqPersist bool
	showAudit  bool
)

// tenderFile is the on-disk tender definition the command consumes
type tenderFile struct {
	TenderID           string                        `json:"tender_id"`
	ProjectID          string                        `json:"project_id,omitempty"`
	DefaultPercentages *model.PercentageSet          `json:"default_percentages,omitempty"`
	Items              []model.QuantityItem          `json:"items"`
	Pricing            map[string]*model.PricingData `json:"pricing,omitempty"`
}

// boqCmd represents the boq command
var boqCmd = &cobra.Command{
	Use:   "boq [tender.json]",
	Short: "Compute the bill of quantities for a tender",
	Long: `Load a tender definition (quantity items plus pricing state),
run every line item through the pricing engine, and print the BOQ
rollup with VAT.

Examples:
  tender-cost boq ./tender.json
  tender-cost boq --format json ./tender.json
  tender-cost boq --persist ./tender.json`,
	Args: cobra.ExactArgs(1),
	RunE: runBOQ,
}

func init() {
	boqCmd.Flags().StringVarP(&boqFormat, "format", "f", "table", "output format (table, json)")
	boqCmd.Flags().BoolVar(&boqPersist, "persist", false, "persist the snapshot through the configured backend")
	boqCmd.Flags().BoolVar(&showAudit, "audit", false, "print the audit trail after the run")
}

func runBOQ(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read tender file: %w", err)
	}

	var tf tenderFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("failed to parse tender file: %w", err)
	}
	if tf.TenderID == "" {
		return fmt.Errorf("tender file has no tender_id")
	}

	cfg := config.Get()
	defaults := model.PercentageSet{
		Administrative: calc.SanitizePercentage(cfg.Pricing.DefaultAdministrative),
		Operational:    calc.SanitizePercentage(cfg.Pricing.DefaultOperational),
		Profit:         calc.SanitizePercentage(cfg.Pricing.DefaultProfit),
	}
	if tf.DefaultPercentages != nil {
		defaults = *tf.DefaultPercentages
	}

	snap := state.Snapshot{
		TenderID:  tf.TenderID,
		ProjectID: tf.ProjectID,
		Items:     tf.Items,
		Pricing:   tf.Pricing,
		Defaults:  defaults,
	}
	if snap.Pricing == nil {
		snap.Pricing = map[string]*model.PricingData{}
	}

	items, totals := boq.Build(snap)

	if boqPersist {
		if err := persistSnapshot(snap); err != nil {
			return err
		}
	}

	switch boqFormat {
	case "json":
		out := storage.BOQRecord{
			TenderID:   tf.TenderID,
			ProjectID:  tf.ProjectID,
			Items:      items,
			TotalValue: totals.TotalValue,
			Totals:     totals,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		printTable(items, totals)
		return nil
	}
}

func persistSnapshot(snap state.Snapshot) error {
	cfg := config.Get()

	store, err := storage.Factory(storage.Backend(cfg.Persistence.Backend), map[string]string{
		"path": cfg.Persistence.Path,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	var sink audit.Sink = audit.NewZapSink(logging.Logger)
	var mem *audit.MemorySink
	if showAudit {
		mem = audit.NewMemorySink()
		sink = mem
	}

	coord := persist.New(store, events.NewDispatcher(), sink, persist.Options{
		Window:       cfg.Persistence.DebounceWindow(),
		WriteTimeout: cfg.Persistence.WriteTimeout(),
		MaxRetries:   cfg.Persistence.MaxRetries,
		RetryBackoff: cfg.Persistence.RetryBackoff(),
		Source:       "cli",
	})
	coord.Mutated(snap)
	if err := coord.Flush(); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	coord.Stop()

	if mem != nil {
		for _, e := range mem.Events() {
			fmt.Printf("[audit] %s %s %s %s\n", e.Action, e.Key, e.Level, e.Status)
		}
	}
	fmt.Printf("Persisted tender %s via %s backend\n", snap.TenderID, cfg.Persistence.Backend)
	return nil
}

func printTable(items []model.BOQItem, totals model.BOQTotals) {
	fmt.Printf("%-36s %-8s %12s %14s %14s\n", "ITEM", "UNIT", "QTY", "UNIT PRICE", "TOTAL")
	for _, it := range items {
		fmt.Printf("%-36s %-8s %12s %14s %14s\n",
			truncate(it.Description, 36), it.Unit,
			it.Quantity.StringFixed(2),
			it.UnitPrice.StringFixed(2),
			it.TotalPrice.StringFixed(2))
	}

	fmt.Println()
	fmt.Printf("Base subtotal:      %14s\n", totals.BaseSubtotal.StringFixed(2))
	fmt.Printf("Administrative:     %14s\n", totals.Administrative.StringFixed(2))
	fmt.Printf("Operational:        %14s\n", totals.Operational.StringFixed(2))
	fmt.Printf("Profit:             %14s\n", totals.Profit.StringFixed(2))
	fmt.Printf("Total value:        %14s\n", totals.TotalValue.StringFixed(2))
	vatPct := totals.VATRate.Mul(decimal.NewFromInt(100))
	fmt.Printf("VAT (%s%%):          %14s\n", vatPct.StringFixed(0), totals.VATAmount.StringFixed(2))
	fmt.Printf("Total with VAT:     %14s\n", totals.TotalWithVAT.StringFixed(2))
}

// truncate shortens a description to max display runes. Cutting on
// bytes could split a multi-byte rune.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
