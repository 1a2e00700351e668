package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyclecloud/azslurmd/pkg/partition"
)

var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Regenerate the partition model and reconfigure the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}

		partitions, err := partition.FetchPartitions(cmd.Context(), c.provider, true)
		if err != nil {
			return err
		}
		fmt.Printf("regenerated %d partitions\n", len(partitions))

		if err := c.scheduler.Reconfigure(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("scheduler reconfigured")
		return nil
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the scheduler's nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}
		outputFormat, _ := cmd.Flags().GetString("output-format")

		nodes, err := c.scheduler.ShowNodes(cmd.Context(), nil)
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printNodesJSON(nodes)
		}
		return printNodesTable(nodes)
	},
}

func init() {
	nodesCmd.Flags().String("output-format", "table", "Output format: table or json")
}
