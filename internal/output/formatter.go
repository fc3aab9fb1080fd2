// Package output provides formatters for displaying fleet resources
// in various formats (table, YAML, JSON).
package output

import (
	"fmt"
	"time"

	"github.com/vmfleet/engine/internal/models"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format for declarative consumption.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter renders fleet resources for output.
type Formatter interface {
	// FormatVM renders a single VM.
	FormatVM(vm *models.VM) (string, error)

	// FormatVMList renders a list of VMs.
	FormatVMList(vms []models.VM) (string, error)

	// FormatTransitions renders a VM's audit trail.
	FormatTransitions(items []models.StateTransition) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
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
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}

// VMView is the flat projection shared by the structured formats. The gorm
// model carries storage concerns the CLI should not print, so formats render
// this instead.
type VMView struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	DesiredState  string    `json:"desired_state" yaml:"desired_state"`
	ObservedState string    `json:"observed_state" yaml:"observed_state"`
	CPUs          int       `json:"cpus" yaml:"cpus"`
	MemoryMB      int       `json:"memory_mb" yaml:"memory_mb"`
	BackendRef    string    `json:"backend_ref,omitempty" yaml:"backend_ref,omitempty"`
	Version       int64     `json:"version" yaml:"version"`
	Retries       int       `json:"retries,omitempty" yaml:"retries,omitempty"`
	LastError     string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// TransitionView is the flat projection of one audit row.
type TransitionView struct {
	At     time.Time `json:"at" yaml:"at"`
	From   string    `json:"from_state" yaml:"from_state"`
	To     string    `json:"to_state" yaml:"to_state"`
	Source string    `json:"source" yaml:"source"`
	Reason string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func viewOf(vm *models.VM) VMView {
	return VMView{
		ID:            vm.ID.String(),
		Name:          vm.Name,
		DesiredState:  string(vm.DesiredState),
		ObservedState: string(vm.ObservedState),
		CPUs:          vm.CPUs,
		MemoryMB:      vm.MemoryMB,
		BackendRef:    vm.BackendRef,
		Version:       vm.Version,
		Retries:       vm.Retries,
		LastError:     vm.LastError,
		CreatedAt:     vm.CreatedAt,
		UpdatedAt:     vm.UpdatedAt,
	}
}

func viewOfTransition(tr *models.StateTransition) TransitionView {
	return TransitionView{
		At:     tr.CreatedAt,
		From:   string(tr.FromState),
		To:     string(tr.ToState),
		Source: tr.Source,
		Reason: tr.Reason,
	}
}
