package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyclecloud/azslurmd/pkg/clock"
	"github.com/cyclecloud/azslurmd/pkg/partition"
	"github.com/cyclecloud/azslurmd/pkg/resume"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resolve, allocate, and boot the given nodes",
	Long: `resume is the scheduler's resume-hook entry point: it resolves
--node-list against the current partition model, allocates and boots
every name not already running, and by default waits for each one to
reach a usable state before returning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}
		nodeList, _ := cmd.Flags().GetString("node-list")
		noWait, _ := cmd.Flags().GetBool("no-wait")

		names, err := c.scheduler.FromHostlist(cmd.Context(), nodeList)
		if err != nil {
			return err
		}

		partitions, err := partition.FetchPartitions(cmd.Context(), c.provider, true)
		if err != nil {
			return err
		}

		d := resume.New(c.provider, c.scheduler, clock.New())
		result, err := d.Resume(cmd.Context(), names, partitions, resume.Options{
			NoWait:         noWait,
			ValidHostnames: c.cfg.ValidHostnames,
		})
		if err != nil {
			return err
		}

		fmt.Printf("allocated=%d ready=%d failed=%d unknown=%d\n",
			len(result.Allocated), len(result.Ready), len(result.Failed), len(result.Unknown))
		return nil
	},
}

func init() {
	resumeCmd.Flags().String("node-list", "", "Comma-separated or hostlist-compressed node names (required)")
	resumeCmd.Flags().Bool("no-wait", false, "Return immediately after dispatching, without waiting for nodes to become ready")
	resumeCmd.MarkFlagRequired("node-list")
}

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Deallocate the given nodes",
	Long:  `suspend is the scheduler's suspend-hook entry point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}
		nodeList, _ := cmd.Flags().GetString("node-list")

		names, err := c.scheduler.FromHostlist(cmd.Context(), nodeList)
		if err != nil {
			return err
		}
		return resume.Suspend(cmd.Context(), c.provider, names)
	},
}

func init() {
	suspendCmd.Flags().String("node-list", "", "Comma-separated or hostlist-compressed node names (required)")
	suspendCmd.MarkFlagRequired("node-list")
}

var resumeFailCmd = &cobra.Command{
	Use:   "resume-fail",
	Short: "Mark the given nodes down with reason cyclecloud_node_failure",
	Long: `resume-fail is the scheduler's resume-fail hook entry point,
invoked when a dispatched resume callback never completed in time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}
		nodeList, _ := cmd.Flags().GetString("node-list")

		names, err := c.scheduler.FromHostlist(cmd.Context(), nodeList)
		if err != nil {
			return err
		}
		return resume.ResumeFail(cmd.Context(), c.scheduler, names)
	},
}

func init() {
	resumeFailCmd.Flags().String("node-list", "", "Comma-separated or hostlist-compressed node names (required)")
	resumeFailCmd.MarkFlagRequired("node-list")
}
