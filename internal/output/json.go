package output

import (
	"encoding/json"
	"fmt"

	"github.com/vmfleet/engine/internal/models"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatVM formats a single VM as JSON.
func (f *JSONFormatter) FormatVM(vm *models.VM) (string, error) {
	data, err := json.MarshalIndent(viewOf(vm), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatVMList formats a list of VMs as a JSON array.
func (f *JSONFormatter) FormatVMList(vms []models.VM) (string, error) {
	views := make([]VMView, 0, len(vms))
	for i := range vms {
		views = append(views, viewOf(&vms[i]))
	}

	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal VMs to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatTransitions formats an audit trail as a JSON array.
func (f *JSONFormatter) FormatTransitions(items []models.StateTransition) (string, error) {
	views := make([]TransitionView, 0, len(items))
	for i := range items {
		views = append(views, viewOfTransition(&items[i]))
	}

	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transitions to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
