package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/roomsense/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List built-in firmware profiles",
	Long: `Lists the built-in firmware profiles with their roles in enablement order.
Custom role tables can be passed to monitor --profile as a YAML file path.`,
	Args: cobra.NoArgs,
	RunE: runProfiles,
}

var profilesFormat string

func init() {
	profilesCmd.Flags().StringVarP(&profilesFormat, "format", "f", "table", "Output format (table, json)")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	validFormats := []string{"table", "json"}
	if !contains(validFormats, profilesFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", profilesFormat, validFormats)
	}

	out := cmd.OutOrStdout()
	all := profile.All()
	if profilesFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(all)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, p := range all {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
		fmt.Fprintf(w, "  service\t%s\n", displayUUID(p.Service))
		for order, r := range p.Roles {
			fmt.Fprintf(w, "  %d. %s\t%s\t%s\n", order+1, r.Name, displayUUID(r.Characteristic), r.Layout)
		}
	}
	return w.Flush()
}
