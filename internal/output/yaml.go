package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/orchestrator"
)

// YAMLFormatter formats results as YAML sequences.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatInventory(vms []models.VMDescriptor) (string, error) {
	return marshalYAML("inventory", inventoryItems(vms))
}

func (f *YAMLFormatter) FormatMembers(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	return marshalYAML("members", names)
}

func (f *YAMLFormatter) FormatState(states []orchestrator.MachineState) (string, error) {
	if states == nil {
		states = []orchestrator.MachineState{}
	}
	return marshalYAML("state", states)
}

func (f *YAMLFormatter) FormatSnapshots(trees []orchestrator.MachineSnapshots) (string, error) {
	return marshalYAML("snapshots", SnapshotLists(trees))
}

func (f *YAMLFormatter) FormatCurrent(current []orchestrator.CurrentSnapshot) (string, error) {
	if current == nil {
		current = []orchestrator.CurrentSnapshot{}
	}
	return marshalYAML("current snapshots", current)
}

func (f *YAMLFormatter) FormatGroups(groups []*models.GroupRecord) (string, error) {
	if groups == nil {
		groups = []*models.GroupRecord{}
	}
	return marshalYAML("groups", groups)
}

func marshalYAML(what string, v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to YAML: %w", what, err)
	}
	return string(data), nil
}
