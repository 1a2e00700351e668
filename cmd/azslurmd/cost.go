package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

const costDateLayout = "2006-01-02"

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Report estimated fleet cost between two dates",
	Long: `cost is a thin report over the current fleet inventory: it
multiplies each running VM's size rate (from the config file's
cost_rates table) by the number of hours in [--start, --end) and
writes one CSV row per VM size to <output>/cost.csv.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}
		startRaw, _ := cmd.Flags().GetString("start")
		endRaw, _ := cmd.Flags().GetString("end")
		outputDir, _ := cmd.Flags().GetString("output")

		start, err := time.Parse(costDateLayout, startRaw)
		if err != nil {
			return errs.Wrap(errs.InvalidState, "parsing --start", err)
		}
		end, err := time.Parse(costDateLayout, endRaw)
		if err != nil {
			return errs.Wrap(errs.InvalidState, "parsing --end", err)
		}
		if !end.After(start) {
			return errs.New(errs.InvalidState, "--end must be after --start")
		}
		hours := end.Sub(start).Hours()

		nodes, err := c.provider.ListNodes(cmd.Context())
		if err != nil {
			return err
		}

		rows := estimateCostBySize(nodes, c.cfg.CostRates, hours)

		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return errs.Wrap(errs.ConfigError, "creating cost output directory", err)
		}
		outPath := filepath.Join(outputDir, "cost.csv")
		if err := writeCostCSV(outPath, rows); err != nil {
			return err
		}
		fmt.Printf("wrote cost report for %d VM sizes to %s\n", len(rows), outPath)
		return nil
	},
}

func init() {
	costCmd.Flags().String("start", "", "Start date, YYYY-MM-DD (required)")
	costCmd.Flags().String("end", "", "End date, YYYY-MM-DD (required)")
	costCmd.Flags().String("output", "", "Directory to write cost.csv into (required)")
	costCmd.MarkFlagRequired("start")
	costCmd.MarkFlagRequired("end")
	costCmd.MarkFlagRequired("output")
}

type costRow struct {
	vmSize    string
	count     int
	hourlyUSD float64
	totalUSD  float64
}

func estimateCostBySize(nodes []*types.ProviderNode, rates map[string]float64, hours float64) []costRow {
	counts := map[string]int{}
	for _, n := range nodes {
		if n.State == types.ProviderStateOff || n.State == types.ProviderStateDeallocated {
			continue
		}
		counts[n.VMSize]++
	}

	sizes := make([]string, 0, len(counts))
	for size := range counts {
		sizes = append(sizes, size)
	}
	sort.Strings(sizes)

	rows := make([]costRow, 0, len(sizes))
	for _, size := range sizes {
		rate := rates[size]
		count := counts[size]
		rows = append(rows, costRow{
			vmSize:    size,
			count:     count,
			hourlyUSD: rate,
			totalUSD:  rate * hours * float64(count),
		})
	}
	return rows
}

func writeCostCSV(path string, rows []costRow) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.ConfigError, "creating cost report file", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"vm_size", "count", "hourly_usd", "total_usd"}); err != nil {
		return errs.Wrap(errs.ConfigError, "writing cost report header", err)
	}
	for _, row := range rows {
		record := []string{
			row.vmSize,
			fmt.Sprintf("%d", row.count),
			fmt.Sprintf("%.4f", row.hourlyUSD),
			fmt.Sprintf("%.2f", row.totalUSD),
		}
		if err := w.Write(record); err != nil {
			return errs.Wrap(errs.ConfigError, "writing cost report row", err)
		}
	}
	w.Flush()
	return w.Error()
}
