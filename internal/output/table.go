package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/vmfleet/engine/internal/models"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatVM formats a single VM as a one-row table.
func (f *TableFormatter) FormatVM(vm *models.VM) (string, error) {
	return f.FormatVMList([]models.VM{*vm})
}

// FormatVMList formats a list of VMs as a table.
func (f *TableFormatter) FormatVMList(vms []models.VM) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tDESIRED\tCPUS\tMEMORY\tVERSION\tAGE")
	}

	for i := range vms {
		vm := &vms[i]

		state := string(vm.ObservedState)
		// An errored row is only useful with its reason.
		if vm.ObservedState == models.StateError && vm.LastError != "" {
			state = fmt.Sprintf("error (%s)", truncate(vm.LastError, 40))
		}

		age := "-"
		if !vm.CreatedAt.IsZero() {
			age = formatAge(time.Since(vm.CreatedAt))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d MiB\t%d\t%s\n",
			vm.Name, state, vm.DesiredState, vm.CPUs, vm.MemoryMB, vm.Version, age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatTransitions formats an audit trail as a table, newest first.
func (f *TableFormatter) FormatTransitions(items []models.StateTransition) (string, error) {
	if len(items) == 0 {
		return "No transitions recorded\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "WHEN\tFROM\tTO\tSOURCE\tREASON")
	}

	for i := range items {
		tr := &items[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			tr.CreatedAt.Format(time.RFC3339), tr.FromState, tr.ToState, tr.Source, truncate(tr.Reason, 60))
	}

	_ = w.Flush()
	return buf.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// formatAge renders a duration as a compact age string like "5s", "2m", "3h", "4d".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}
