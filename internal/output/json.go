package output

import (
	"encoding/json"
	"fmt"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/orchestrator"
)

// JSONFormatter formats results as indented JSON arrays.
type JSONFormatter struct{}

func (f *JSONFormatter) FormatInventory(vms []models.VMDescriptor) (string, error) {
	return marshalJSON("inventory", inventoryItems(vms))
}

func (f *JSONFormatter) FormatMembers(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	return marshalJSON("members", names)
}

func (f *JSONFormatter) FormatState(states []orchestrator.MachineState) (string, error) {
	if states == nil {
		states = []orchestrator.MachineState{}
	}
	return marshalJSON("state", states)
}

func (f *JSONFormatter) FormatSnapshots(trees []orchestrator.MachineSnapshots) (string, error) {
	return marshalJSON("snapshots", SnapshotLists(trees))
}

func (f *JSONFormatter) FormatCurrent(current []orchestrator.CurrentSnapshot) (string, error) {
	if current == nil {
		current = []orchestrator.CurrentSnapshot{}
	}
	return marshalJSON("current snapshots", current)
}

func (f *JSONFormatter) FormatGroups(groups []*models.GroupRecord) (string, error) {
	if groups == nil {
		groups = []*models.GroupRecord{}
	}
	return marshalJSON("groups", groups)
}

func marshalJSON(what string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
