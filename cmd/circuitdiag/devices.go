package main

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/inventory"
	"github.com/user/circuitdiag/internal/model"
)

var devicesOutput string

var devicesCmd = &cobra.Command{
	Use:   "devices SERVICE",
	Short: "List the devices of a service",
	Long: `Resolve the devices of SERVICE in Netbox: the CPEs at its site followed
by the POP devices they connect to. The resolution is cached locally and
used when Netbox is unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", "text",
		"Output format (text, json, yaml)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	if st.resolver == nil {
		return errors.New("no inventory: set netbox.url or pass --device")
	}
	devices, err := st.resolver.ResolveServiceLocation(cmd.Context(), args[0])
	if errors.Is(err, inventory.ErrNotFound) {
		return fmt.Errorf("service %s has no devices in inventory", args[0])
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch devicesOutput {
	case "json":
		return writeJSON(w, devices)
	case "yaml":
		return writeYAML(w, devices)
	case "text":
		fmt.Fprintln(w, devicesTable(args[0], devices))
		return nil
	default:
		return fmt.Errorf("unknown output format %q", devicesOutput)
	}
}

func devicesTable(serviceID string, devices []model.DeviceLocation) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("Devices of " + serviceID)
	t.AppendHeader(table.Row{"Role", "Name", "Address", "Vendor", "Model", "Site", "Connected To"})
	for _, d := range devices {
		t.AppendRow(table.Row{d.Role, d.Name, d.ManagementIP, d.Vendor, d.DeviceType, d.Site, d.ConnectedTo})
	}
	return t.Render()
}
