package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vmfleet/engine/internal/models"
)

// createTestVM builds a VM for formatter tests.
func createTestVM(name string, state models.State, desired models.DesiredState) models.VM {
	return models.VM{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Name:          name,
		CPUs:          2,
		MemoryMB:      512,
		DesiredState:  desired,
		ObservedState: state,
		Version:       3,
		CreatedAt:     time.Now().Add(-5 * time.Minute),
		UpdatedAt:     time.Now(),
	}
}

func TestTableFormatter_FormatVMList(t *testing.T) {
	tests := []struct {
		name       string
		vms        []models.VM
		noHeaders  bool
		want       []string
		wantHeader bool
	}{
		{
			name: "empty list",
			vms:  []models.VM{},
			want: []string{"No VMs found"},
		},
		{
			name: "single running VM",
			vms: []models.VM{
				createTestVM("web-01", models.StateRunning, models.DesiredRunning),
			},
			want:       []string{"web-01", "running", "512 MiB"},
			wantHeader: true,
		},
		{
			name: "multiple VMs",
			vms: []models.VM{
				createTestVM("web-01", models.StateRunning, models.DesiredRunning),
				createTestVM("web-02", models.StateStopped, models.DesiredStopped),
				createTestVM("web-03", models.StateProvisioning, models.DesiredRunning),
			},
			want:       []string{"web-01", "web-02", "web-03", "provisioning"},
			wantHeader: true,
		},
		{
			name: "no headers",
			vms: []models.VM{
				createTestVM("web-01", models.StateRunning, models.DesiredRunning),
			},
			noHeaders: true,
			want:      []string{"web-01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			got, err := formatter.FormatVMList(tt.vms)
			if err != nil {
				t.Fatalf("FormatVMList() error = %v", err)
			}

			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q: %s", want, got)
				}
			}

			hasHeader := strings.Contains(got, "NAME")
			if hasHeader != tt.wantHeader {
				t.Errorf("header presence = %v, want %v: %s", hasHeader, tt.wantHeader, got)
			}
		})
	}
}

func TestTableFormatter_ErrorRowCarriesReason(t *testing.T) {
	vm := createTestVM("db-01", models.StateError, models.DesiredRunning)
	vm.LastError = "no capacity on host"

	formatter := &TableFormatter{}
	got, err := formatter.FormatVM(&vm)
	if err != nil {
		t.Fatalf("FormatVM() error = %v", err)
	}

	if !strings.Contains(got, "error (no capacity on host)") {
		t.Errorf("error row should include the recorded reason: %s", got)
	}
}

func TestJSONFormatter_FormatVM(t *testing.T) {
	vm := createTestVM("web-01", models.StateRunning, models.DesiredRunning)
	vm.BackendRef = "sim-9f2c01d4e7ab"

	formatter := &JSONFormatter{}
	got, err := formatter.FormatVM(&vm)
	if err != nil {
		t.Fatalf("FormatVM() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["name"] != "web-01" {
		t.Errorf("name = %v, want web-01", decoded["name"])
	}
	if decoded["observed_state"] != "running" {
		t.Errorf("observed_state = %v, want running", decoded["observed_state"])
	}
	if decoded["backend_ref"] != "sim-9f2c01d4e7ab" {
		t.Errorf("backend_ref = %v", decoded["backend_ref"])
	}
}

func TestYAMLFormatter_FormatVMList(t *testing.T) {
	vms := []models.VM{
		createTestVM("web-01", models.StateRunning, models.DesiredRunning),
		createTestVM("web-02", models.StateStopped, models.DesiredStopped),
	}

	formatter := &YAMLFormatter{}
	got, err := formatter.FormatVMList(vms)
	if err != nil {
		t.Fatalf("FormatVMList() error = %v", err)
	}

	if !strings.Contains(got, "---") {
		t.Errorf("multi-document output missing separator: %s", got)
	}
	if !strings.Contains(got, "name: web-01") || !strings.Contains(got, "name: web-02") {
		t.Errorf("output missing vm documents: %s", got)
	}
	if !strings.Contains(got, "observed_state: stopped") {
		t.Errorf("output missing observed state key: %s", got)
	}
}

func TestTableFormatter_FormatTransitions(t *testing.T) {
	vmID := uuid.New()
	items := []models.StateTransition{
		{
			VMID:      vmID,
			FromState: models.StateProvisioning,
			ToState:   models.StateRunning,
			Desired:   models.DesiredRunning,
			Source:    models.TransitionSourceWorker,
			CreatedAt: time.Now(),
		},
		{
			VMID:      vmID,
			FromState: models.StatePending,
			ToState:   models.StateProvisioning,
			Desired:   models.DesiredRunning,
			Source:    models.TransitionSourceAPI,
			CreatedAt: time.Now().Add(-time.Minute),
		},
	}

	formatter := &TableFormatter{}
	got, err := formatter.FormatTransitions(items)
	if err != nil {
		t.Fatalf("FormatTransitions() error = %v", err)
	}

	for _, want := range []string{"WHEN", "provisioning", "worker", "api"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %s", want, got)
		}
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{49 * time.Hour, "2d"},
		{-time.Second, "unknown"},
	}

	for _, tt := range tests {
		if got := formatAge(tt.d); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	for _, format := range []Format{FormatTable, FormatYAML, FormatJSON} {
		if _, err := NewFormatter(Options{Format: format}); err != nil {
			t.Errorf("NewFormatter(%s) error = %v", format, err)
		}
	}

	if _, err := NewFormatter(Options{Format: "xml"}); err == nil {
		t.Error("NewFormatter(xml) should fail")
	}

	if err := ValidateFormat("table"); err != nil {
		t.Errorf("ValidateFormat(table) error = %v", err)
	}
	if err := ValidateFormat("csv"); err == nil {
		t.Error("ValidateFormat(csv) should fail")
	}
}
