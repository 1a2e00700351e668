package topology

import (
	"fmt"
	"strings"
)

// Visualize renders an emitted topology file back to an ASCII tree or
// block grid for operator review via --preview. It is a pure function
// over the file's bytes: no commands run and no scheduler state is
// read.
func Visualize(file []byte) (string, error) {
	text := string(file)
	if strings.Contains(text, "BlockName=") || strings.Contains(text, "BlockSizes=") {
		return visualizeBlocks(text), nil
	}
	return visualizeTree(text), nil
}

type namedNodes struct {
	name  string
	nodes []string
}

func visualizeTree(text string) string {
	var root string
	var rootChildren []string
	var switches []namedNodes

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.HasPrefix(line, "SwitchName=") {
			continue
		}
		rest := strings.TrimPrefix(line, "SwitchName=")
		fields := strings.SplitN(rest, " ", 2)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		if rest2, ok := strings.CutPrefix(fields[1], "Switches="); ok {
			root = name
			rootChildren = strings.Split(rest2, ",")
			continue
		}
		if rest2, ok := strings.CutPrefix(fields[1], "Nodes="); ok {
			switches = append(switches, namedNodes{name: name, nodes: strings.Split(rest2, ",")})
		}
	}

	byName := make(map[string][]string, len(switches))
	for _, s := range switches {
		byName[s.name] = s.nodes
	}

	var b strings.Builder
	if root != "" {
		fmt.Fprintf(&b, "%s\n", root)
		for i, child := range rootChildren {
			last := i == len(rootChildren)-1
			branch, indent := "├──", "│   "
			if last {
				branch, indent = "└──", "    "
			}
			fmt.Fprintf(&b, "%s %s\n", branch, child)
			writeLeaves(&b, indent, byName[child])
		}
		return b.String()
	}

	for _, s := range switches {
		fmt.Fprintf(&b, "%s\n", s.name)
		writeLeaves(&b, "", s.nodes)
	}
	return b.String()
}

func writeLeaves(b *strings.Builder, indent string, nodes []string) {
	for j, n := range nodes {
		branch := indent + "├──"
		if j == len(nodes)-1 {
			branch = indent + "└──"
		}
		fmt.Fprintf(b, "%s %s\n", branch, n)
	}
}

func visualizeBlocks(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if strings.Contains(line, "Warning") {
				fmt.Fprintf(&b, "  %s\n", line)
			}
			continue
		}
		if !strings.HasPrefix(line, "BlockName=") {
			continue
		}
		rest := strings.TrimPrefix(line, "BlockName=")
		fields := strings.SplitN(rest, " ", 2)
		if len(fields) < 2 {
			continue
		}
		nodes, _ := strings.CutPrefix(fields[1], "Nodes=")
		fmt.Fprintf(&b, "[%s] %s\n", fields[0], strings.Join(strings.Split(nodes, ","), ", "))
	}
	return b.String()
}
