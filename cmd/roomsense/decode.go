package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/roomsense/internal/codec"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <layout> <hex>",
	Short: "Decode a captured sensor payload",
	Long: fmt.Sprintf(`Decodes one notification payload offline, e.g. from a capture.
Hex may contain spaces, colons or a 0x prefix.

Layouts: %s

Examples:
  roomsense decode sound_i32 2a000000
  roomsense decode environment_i16x2_centi "66 08 a0 0f" --format json`, layoutList()),
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

var decodeFormat string

func init() {
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "text", "Output format (text, json)")
}

func layoutList() string {
	names := make([]string, 0, len(codec.Layouts()))
	for _, l := range codec.Layouts() {
		names = append(names, l.String())
	}
	return strings.Join(names, ", ")
}

// parseHex accepts "0a0B", "0x0a 0b" and "0a:0b".
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	if !contains(monitorFormats, decodeFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", decodeFormat, monitorFormats)
	}
	layout, err := codec.ParseLayout(args[0])
	if err != nil {
		return err
	}
	data, err := parseHex(args[1])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	reading, err := codec.Decode(layout, data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if decodeFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Layout codec.Layout  `json:"layout"`
			Kind   string        `json:"kind"`
			Values codec.Reading `json:"values"`
		}{layout, reading.Kind(), reading})
	}
	fmt.Fprintf(out, "%s: %s\n", reading.Kind(), reading)
	return nil
}
