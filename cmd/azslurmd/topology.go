package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyclecloud/azslurmd/pkg/atomicwrite"
	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/topology"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Build a fabric or NVLink topology file for a partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}
		partitionName, _ := cmd.Flags().GetString("partition")
		input, _ := cmd.Flags().GetString("input")
		topoType, _ := cmd.Flags().GetString("type")
		output, _ := cmd.Flags().GetString("output")
		blockSize, _ := cmd.Flags().GetInt("block-size")
		preview, _ := cmd.Flags().GetBool("preview")

		nodes, err := topology.EligibleNodes(cmd.Context(), c.scheduler, partitionName)
		if err != nil {
			return err
		}

		exec := topology.NewSRunExecutor(c.runner, partitionName)

		var file []byte
		switch input {
		case "fabric":
			if topoType != "tree" {
				return errs.New(errs.InvalidState, "fabric input only produces a tree topology")
			}
			file, err = topology.NewFabricBuilder(exec).Build(cmd.Context(), nodes)
		case "nvlink":
			if topoType != "block" {
				return errs.New(errs.InvalidState, "nvlink input only produces a block topology")
			}
			file, err = topology.NewBlockBuilder(exec, blockSize).Build(cmd.Context(), nodes)
		default:
			return errs.New(errs.InvalidState, fmt.Sprintf("unknown --input %q, must be fabric or nvlink", input))
		}
		if err != nil {
			return err
		}

		if err := atomicwrite.File(output, file, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s topology for %d nodes to %s\n", topoType, len(nodes), output)

		if preview {
			rendered, err := topology.Visualize(file)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Print(rendered)
		}
		return nil
	},
}

func init() {
	topologyCmd.Flags().String("partition", "", "Partition to build topology for (required)")
	topologyCmd.Flags().String("input", "fabric", "Topology source: fabric or nvlink")
	topologyCmd.Flags().String("type", "tree", "Topology shape: tree or block")
	topologyCmd.Flags().String("output", "", "Path to write the topology file to (required)")
	topologyCmd.Flags().Int("block-size", 1, "Minimum NVLink block size; smaller blocks are commented out")
	topologyCmd.Flags().Bool("preview", false, "Also print an ASCII rendering of the written topology")
	topologyCmd.MarkFlagRequired("partition")
	topologyCmd.MarkFlagRequired("output")
}
