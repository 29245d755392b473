// Package output renders group, inventory and snapshot data as a table,
// JSON or YAML.
package output

import (
	"fmt"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/orchestrator"
	"github.com/EpicMandM/vsphere-group-manager/internal/snapshot"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter renders command results.
type Formatter interface {
	FormatInventory(vms []models.VMDescriptor) (string, error)
	FormatMembers(names []string) (string, error)
	FormatState(states []orchestrator.MachineState) (string, error)
	FormatSnapshots(trees []orchestrator.MachineSnapshots) (string, error)
	FormatCurrent(current []orchestrator.CurrentSnapshot) (string, error)
	FormatGroups(groups []*models.GroupRecord) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable, "":
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}

// SnapshotList is the serialisable form of one member's snapshot tree.
type SnapshotList struct {
	VM        string          `json:"vm" yaml:"vm"`
	Snapshots []snapshot.Node `json:"snapshots" yaml:"snapshots"`
}

// SnapshotLists flattens trees into their serialisable form.
func SnapshotLists(trees []orchestrator.MachineSnapshots) []SnapshotList {
	out := make([]SnapshotList, 0, len(trees))
	for _, ms := range trees {
		nodes := ms.Tree.Nodes()
		if nodes == nil {
			nodes = []snapshot.Node{}
		}
		out = append(out, SnapshotList{VM: ms.Name, Snapshots: nodes})
	}
	return out
}

type inventoryItem struct {
	Name       string            `json:"name" yaml:"name"`
	PowerState models.PowerState `json:"power_state" yaml:"power_state"`
	Host       string            `json:"host" yaml:"host"`
	Snapshots  int               `json:"snapshots" yaml:"snapshots"`
}

func inventoryItems(vms []models.VMDescriptor) []inventoryItem {
	out := make([]inventoryItem, 0, len(vms))
	for _, vm := range vms {
		out = append(out, inventoryItem{
			Name:       vm.Name,
			PowerState: vm.PowerState,
			Host:       vm.Host,
			Snapshots:  snapshot.BuildFromInfo(vm.Snapshot).Len(),
		})
	}
	return out
}
