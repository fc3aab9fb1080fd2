package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vmfleet/engine/internal/models"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatVM formats a single VM as YAML.
func (f *YAMLFormatter) FormatVM(vm *models.VM) (string, error) {
	data, err := yaml.Marshal(viewOf(vm))
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}
	return string(data), nil
}

// FormatVMList formats a list of VMs as a YAML stream, one document per VM.
func (f *YAMLFormatter) FormatVMList(vms []models.VM) (string, error) {
	if len(vms) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for i := range vms {
		data, err := yaml.Marshal(viewOf(&vms[i]))
		if err != nil {
			return "", fmt.Errorf("failed to marshal VM %s to YAML: %w", vms[i].Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}

	return buf.String(), nil
}

// FormatTransitions formats an audit trail as a single YAML document.
func (f *YAMLFormatter) FormatTransitions(items []models.StateTransition) (string, error) {
	views := make([]TransitionView, 0, len(items))
	for i := range items {
		views = append(views, viewOfTransition(&items[i]))
	}

	data, err := yaml.Marshal(views)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transitions to YAML: %w", err)
	}
	return string(data), nil
}
