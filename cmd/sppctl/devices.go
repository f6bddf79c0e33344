package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/devicefactory"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired Bluetooth devices",
	Long: `Lists the devices paired with the adapter, in the order connect resolves
names: when two devices share a name, the first one listed wins.

The SPP column shows whether the device advertises the Serial Port Profile.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "", "Output format (table, json); default from config")
}

// deviceRow is the JSON shape of one listed device
type deviceRow struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	SPP       bool     `json:"spp"`
	Paired    bool     `json:"paired"`
	Trusted   bool     `json:"trusted"`
	Connected bool     `json:"connected"`
	Services  []string `json:"services,omitempty"`
}

func runDevices(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	format := s.cfg.OutputFormat
	if devicesFormat != "" {
		format = devicesFormat
	}
	format = strings.ToLower(format)
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	cmd.SilenceUsage = true

	adapter, err := devicefactory.NewAdapter(s.cfg.Adapter, s.logger)
	if err != nil {
		return err
	}
	c, err := connector.New(adapter, s.cfg.ConnectorOptions(), s.logger)
	if err != nil {
		_ = adapter.Close()
		return err
	}
	defer func() {
		if err := c.Shutdown(); err != nil {
			s.logger.WithError(err).Warn("Failed to release adapter")
		}
	}()

	if err := c.Refresh(context.Background()); err != nil {
		return err
	}

	rows := make([]deviceRow, 0, len(c.Devices()))
	for _, d := range c.Devices() {
		services := make([]string, 0, len(d.UUIDs))
		for _, u := range d.UUIDs {
			services = append(services, device.ShortenUUID(u))
		}
		rows = append(rows, deviceRow{
			Name:      d.DisplayName(),
			Address:   d.Address,
			SPP:       d.HasService(s.cfg.ServiceUUID),
			Paired:    d.Paired,
			Trusted:   d.Trusted,
			Connected: d.Connected,
			Services:  services,
		})
	}

	if format == "json" {
		return writeDevicesJSON(cmd.OutOrStdout(), rows)
	}
	writeDevicesTable(cmd.OutOrStdout(), adapter.ID(), rows)
	return nil
}

func writeDevicesJSON(w io.Writer, rows []deviceRow) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}

func writeDevicesTable(w io.Writer, adapterID string, rows []deviceRow) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "No paired devices on %s\n", adapterID)
		return
	}

	yes := color.New(color.FgGreen).Sprint("yes")
	no := color.New(color.FgHiBlack).Sprint("no")
	flag := func(v bool) string {
		if v {
			return yes
		}
		return no
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tSPP\tCONNECTED\tTRUSTED\tSERVICES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Address, flag(r.SPP), flag(r.Connected), flag(r.Trusted), strings.Join(r.Services, ","))
	}
	_ = tw.Flush()
}
