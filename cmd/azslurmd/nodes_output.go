package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cyclecloud/azslurmd/pkg/types"
)

func flagNames(n *types.SchedulerNode) string {
	names := make([]string, 0, len(n.Flags))
	for f := range n.Flags {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

func printNodesTable(nodes []*types.SchedulerNode) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tREASON\tPARTITIONS")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Name, flagNames(n), n.Reason, strings.Join(n.Partitions, ","))
	}
	return w.Flush()
}

type nodeView struct {
	Name       string   `json:"name"`
	State      []string `json:"state"`
	Reason     string   `json:"reason,omitempty"`
	NodeAddr   string   `json:"node_addr"`
	Partitions []string `json:"partitions"`
}

func printNodesJSON(nodes []*types.SchedulerNode) error {
	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		state := make([]string, 0, len(n.Flags))
		for f := range n.Flags {
			state = append(state, string(f))
		}
		sort.Strings(state)
		views = append(views, nodeView{
			Name:       n.Name,
			State:      state,
			Reason:     string(n.Reason),
			NodeAddr:   n.NodeAddr,
			Partitions: n.Partitions,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}
