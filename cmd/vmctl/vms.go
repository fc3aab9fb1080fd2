package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vmfleet/engine/internal/models"
	"github.com/vmfleet/engine/internal/output"
)

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage virtual machines",
}

func init() {
	vmCmd.AddCommand(vmListCmd)
	vmCmd.AddCommand(vmGetCmd)
	vmCmd.AddCommand(vmCreateCmd)
	vmCmd.AddCommand(vmStartCmd)
	vmCmd.AddCommand(vmStopCmd)
	vmCmd.AddCommand(vmDeleteCmd)
	vmCmd.AddCommand(vmTransitionsCmd)

	vmListCmd.Flags().StringVar(&listState, "state", "", "Filter by observed state")
	vmListCmd.Flags().StringVar(&listDesired, "desired", "", "Filter by desired state")

	vmCreateCmd.Flags().StringVar(&createName, "name", "", "VM name (required)")
	vmCreateCmd.Flags().IntVar(&createCPUs, "cpus", 1, "Number of virtual CPUs")
	vmCreateCmd.Flags().IntVar(&createMemoryMB, "memory", 512, "Memory in MiB")
	vmCreateCmd.Flags().StringArrayVar(&createDisks, "disk", nil, "Disk as name:sizeGB, repeatable")
	_ = vmCreateCmd.MarkFlagRequired("name")

	vmTransitionsCmd.Flags().IntVar(&transitionsLimit, "limit", 0, "Maximum rows to return")
}

var (
	listState        string
	listDesired      string
	createName       string
	createCPUs       int
	createMemoryMB   int
	createDisks      []string
	transitionsLimit int
)

// resolveVM accepts either a VM id or a unique VM name.
func resolveVM(ctx context.Context, c *apiClient, arg string) (*models.VM, error) {
	if id, err := uuid.Parse(arg); err == nil {
		var vm models.VM
		if err := c.do(ctx, http.MethodGet, "/api/v1/vms/"+id.String(), nil, &vm); err != nil {
			return nil, err
		}
		return &vm, nil
	}

	var vms []models.VM
	path := "/api/v1/vms?name=" + url.QueryEscape(arg)
	if err := c.do(ctx, http.MethodGet, path, nil, &vms); err != nil {
		return nil, err
	}
	switch len(vms) {
	case 0:
		return nil, fmt.Errorf("no VM named %q", arg)
	case 1:
		return &vms[0], nil
	default:
		return nil, fmt.Errorf("%d VMs named %q, use the id instead", len(vms), arg)
	}
}

func newFormatter() (output.Formatter, error) {
	if err := output.ValidateFormat(outputFormat); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}

var vmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs",
	Long: `List virtual machines, optionally filtered by state.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML documents
  -o json   JSON array`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		q := url.Values{}
		if listState != "" {
			q.Set("observed_state", listState)
		}
		if listDesired != "" {
			q.Set("desired_state", listDesired)
		}
		path := "/api/v1/vms"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		c := newAPIClient()
		var vms []models.VM
		if err := c.do(cmd.Context(), http.MethodGet, path, nil, &vms); err != nil {
			return err
		}

		result, err := formatter.FormatVMList(vms)
		if err != nil {
			return err
		}
		fmt.Print(result)
		return nil
	},
}

var vmGetCmd = &cobra.Command{
	Use:   "get <vm>",
	Short: "Get details about a VM",
	Long:  `Get a single virtual machine by name or id.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		c := newAPIClient()
		vm, err := resolveVM(cmd.Context(), c, args[0])
		if err != nil {
			return err
		}

		result, err := formatter.FormatVM(vm)
		if err != nil {
			return err
		}
		fmt.Print(result)
		return nil
	},
}

var vmCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a VM",
	Long: `Create a new virtual machine record.

The VM starts in the pending state with desired state stopped; run
"vmctl vm start" to provision it on the backend.

Example:
  vmctl vm create --name web-01 --cpus 2 --memory 512 --disk root:10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		type diskReq struct {
			Name   string `json:"name"`
			SizeGB int    `json:"size_gb"`
		}
		body := struct {
			Name     string    `json:"name"`
			CPUs     int       `json:"cpus"`
			MemoryMB int       `json:"memory_mb"`
			Disks    []diskReq `json:"disks,omitempty"`
		}{Name: createName, CPUs: createCPUs, MemoryMB: createMemoryMB}

		for _, d := range createDisks {
			name, size, ok := strings.Cut(d, ":")
			if !ok {
				return fmt.Errorf("invalid --disk %q, expected name:sizeGB", d)
			}
			gb, err := strconv.Atoi(size)
			if err != nil {
				return fmt.Errorf("invalid --disk size in %q: %w", d, err)
			}
			body.Disks = append(body.Disks, diskReq{Name: name, SizeGB: gb})
		}

		c := newAPIClient()
		var vm models.VM
		if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/vms", body, &vm); err != nil {
			return err
		}

		fmt.Printf("✓ VM %s created (id: %s)\n", vm.Name, vm.ID)
		return nil
	},
}

// intentRun sends one lifecycle intent and reports the accepted state.
func intentRun(verb, method, pathSuffix string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c := newAPIClient()
		vm, err := resolveVM(cmd.Context(), c, args[0])
		if err != nil {
			return err
		}

		var updated models.VM
		path := "/api/v1/vms/" + vm.ID.String() + pathSuffix
		if err := c.do(cmd.Context(), method, path, nil, &updated); err != nil {
			return err
		}

		fmt.Printf("✓ %s requested for %s (state: %s)\n", verb, updated.Name, updated.ObservedState)
		return nil
	}
}

var vmStartCmd = &cobra.Command{
	Use:   "start <vm>",
	Short: "Start a VM",
	Long:  `Record the intent to run a VM. Provisioning happens in the background.`,
	Args:  cobra.ExactArgs(1),
	RunE:  intentRun("start", http.MethodPost, "/start"),
}

var vmStopCmd = &cobra.Command{
	Use:   "stop <vm>",
	Short: "Stop a VM",
	Long:  `Record the intent to stop a VM. The backend instance is kept.`,
	Args:  cobra.ExactArgs(1),
	RunE:  intentRun("stop", http.MethodPost, "/stop"),
}

var vmDeleteCmd = &cobra.Command{
	Use:   "delete <vm>",
	Short: "Delete a VM",
	Long: `Record the intent to delete a VM.

The backend instance is torn down in the background; the record remains
visible, marked terminating, until teardown is confirmed.`,
	Args: cobra.ExactArgs(1),
	RunE: intentRun("delete", http.MethodDelete, ""),
}

var vmTransitionsCmd = &cobra.Command{
	Use:   "transitions <vm>",
	Short: "Show a VM's state history",
	Long:  `List the recorded state transitions for a VM, newest first.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		c := newAPIClient()
		vm, err := resolveVM(cmd.Context(), c, args[0])
		if err != nil {
			return err
		}

		path := "/api/v1/vms/" + vm.ID.String() + "/transitions"
		if transitionsLimit > 0 {
			path += "?limit=" + strconv.Itoa(transitionsLimit)
		}

		var items []models.StateTransition
		if err := c.do(cmd.Context(), http.MethodGet, path, nil, &items); err != nil {
			return err
		}

		result, err := formatter.FormatTransitions(items)
		if err != nil {
			return err
		}
		fmt.Print(result)
		return nil
	},
}
