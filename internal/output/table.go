package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/orchestrator"
	"github.com/EpicMandM/vsphere-group-manager/internal/snapshot"
)

const (
	branch     = "└──"
	youAreHere = "You are Here"
)

// TableFormatter formats results for a terminal.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

func (f *TableFormatter) FormatInventory(vms []models.VMDescriptor) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tPOWER\tHOST\tSNAPSHOTS")
	}
	for _, item := range inventoryItems(vms) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", item.Name, item.PowerState, dash(item.Host), item.Snapshots)
	}
	_ = w.Flush()
	return buf.String(), nil
}

func (f *TableFormatter) FormatMembers(names []string) (string, error) {
	if len(names) == 0 {
		return "Group is empty\n", nil
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (f *TableFormatter) FormatState(states []orchestrator.MachineState) (string, error) {
	if len(states) == 0 {
		return "Group is empty\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATUS\tPOWER\tHOST")
	}
	for _, s := range states {
		status := "UP"
		if s.Down {
			status = "DOWN"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, status, s.PowerState, dash(s.Host))
	}
	_ = w.Flush()
	return buf.String(), nil
}

// FormatSnapshots draws a boxed header per member followed by its snapshots
// in pre-order, indented by depth, with a marker under the current one.
func (f *TableFormatter) FormatSnapshots(trees []orchestrator.MachineSnapshots) (string, error) {
	if len(trees) == 0 {
		return "Group is empty\n", nil
	}

	var b strings.Builder
	for _, ms := range trees {
		writeBox(&b, ms.Name)
		for _, n := range ms.Tree.Nodes() {
			prefix := treePrefix(n.Level)
			fmt.Fprintf(&b, "%s [%d] %s\n", prefix, n.ID, n.Name)
			if n.Current {
				fmt.Fprintf(&b, "%s%s %s\n", strings.Repeat(" ", 5), prefix, youAreHere)
			}
		}
	}
	return b.String(), nil
}

func (f *TableFormatter) FormatCurrent(current []orchestrator.CurrentSnapshot) (string, error) {
	if len(current) == 0 {
		return "Group is empty\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tCURRENT SNAPSHOT\tID")
	}
	for _, c := range current {
		id := "-"
		if c.ID != snapshot.NoParent {
			id = fmt.Sprintf("%d", c.ID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, dash(c.Snapshot), id)
	}
	_ = w.Flush()
	return buf.String(), nil
}

func (f *TableFormatter) FormatGroups(groups []*models.GroupRecord) (string, error) {
	if len(groups) == 0 {
		return "No groups found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tMEMBERS\tUPDATED\tID")
	}
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			g.Name,
			strings.Join(g.Members, ","),
			g.UpdatedAt.Local().Format(orchestrator.TimestampLayout),
			g.ID)
	}
	_ = w.Flush()
	return buf.String(), nil
}

func writeBox(b *strings.Builder, name string) {
	bar := strings.Repeat("═", utf8.RuneCountInString(name)+2)
	fmt.Fprintf(b, "╔%s╗\n", bar)
	fmt.Fprintf(b, "║ %s ║\n", name)
	fmt.Fprintf(b, "╚%s╝\n", bar)
}

// treePrefix indents roots by two spaces and every deeper level by five
// more.
func treePrefix(level int) string {
	if level == 0 {
		return "  " + branch
	}
	return strings.Repeat(" ", level*5) + "  " + branch
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
