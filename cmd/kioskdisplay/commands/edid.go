package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/jypelle/kioskdisplay/internal/edid/manager"
	"github.com/jypelle/kioskdisplay/internal/edid/store"
	"github.com/spf13/cobra"
)

func newEdidCmd(opts *globalOptions) *cobra.Command {
	edidCmd := &cobra.Command{
		Use:   "edid",
		Short: "Read, check, store and write EDID data",
		Long: `Read, check, store and write EDID data.

EDID files are raw binary, or hexadecimal text with optional whitespace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	edidCmd.AddCommand(
		newEdidReadCmd(opts),
		newEdidDecodeCmd(),
		newEdidValidateCmd(),
		newEdidFixCmd(),
		newEdidDiffCmd(),
		newEdidSaveCmd(opts),
		newEdidMatchCmd(opts),
		newEdidListCmd(opts),
		newEdidWriteCmd(opts),
	)
	return edidCmd
}

// loadEdidFile reads raw EDID bytes, accepting a hex text dump as well.
func loadEdidFile(filename string) ([]byte, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if isHexText(raw) {
		return edid.ParseHex(string(raw))
	}
	return raw, nil
}

func isHexText(raw []byte) bool {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return false
	}
	for _, b := range raw {
		switch {
		case b >= '0' && b <= '9', b >= 'a' && b <= 'f', b >= 'A' && b <= 'F':
		case b == ' ', b == '\n', b == '\r', b == '\t':
		default:
			return false
		}
	}
	return true
}

func newEdidReadCmd(opts *globalOptions) *cobra.Command {
	var (
		transport string
		length    int
		strict    bool
		output    string
		dump      bool
	)
	cmd := &cobra.Command{
		Use:   "read [TARGET]",
		Short: "Read the EDID of a connector or I2C bus",
		Long: `Read the EDID of a connector or I2C bus.

With the drm transport TARGET is a connector name (HDMI-A-1 or card0-HDMI-A-1).
With the i2c transport TARGET is a bus (3 or i2c-3), a connector name resolved
to its DDC bus, or empty to try every DDC bus found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edidManager, _, err := opts.edidManager()
			if err != nil {
				return printError(cmd, "Unable to load configuration", err)
			}
			target := ""
			if len(args) == 1 {
				target = args[0]
			}

			result, err := edidManager.Read(cmd.Context(), manager.ReadRequest{
				Transport: transport,
				Target:    target,
				Options:   edid.ReadOptions{Length: length, Validate: true, Strict: strict},
			})
			if err != nil {
				return printError(cmd, "Unable to read EDID", err)
			}
			report := edidManager.Inspect(result)

			if output != "" {
				if err := os.WriteFile(output, report.Data, 0644); err != nil {
					return printError(cmd, "Unable to write "+output, err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s:%s, %d bytes, sha256 %s\n", report.Transport, report.Target, len(report.Data), report.Hash)
			if dump {
				fmt.Fprintln(out, edid.FormatHexDump(report.Data))
			} else {
				fmt.Fprintln(out, edid.FormatHex(report.Data, 16))
			}
			if report.Info != nil {
				printInfo(cmd, report.Info)
			}
			if report.Valid {
				printSuccess(cmd, "Valid EDID")
			} else {
				printWarning(cmd, "Invalid EDID: %s", firstNonEmpty(report.Error, report.ValidationError))
			}
			if len(report.Data) >= edid.BlockSize {
				matches, err := edidManager.FindMatches(report.Data)
				if err != nil {
					printWarning(cmd, "Unable to search saved EDIDs: %v", err)
				}
				for _, match := range matches {
					printSuccess(cmd, "Matches saved EDID %s", match.Filename)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", "drm", "Transport: drm or i2c")
	cmd.Flags().IntVarP(&length, "length", "l", 0, "Bytes to read, 0 for the announced length")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on an invalid EDID")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Save the raw bytes to this file")
	cmd.Flags().BoolVar(&dump, "dump", false, "Prefix hex lines with their offset")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newEdidDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode FILE",
		Short: "Decode the identification fields of an EDID file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := loadEdidFile(args[0])
			if err != nil {
				return printError(cmd, "Unable to load EDID", err)
			}
			info, err := edid.DecodeBasic(data)
			if err != nil {
				return printError(cmd, "Unable to decode EDID", err)
			}
			printInfo(cmd, info)
			return nil
		},
	}
}

func newEdidValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check the header, length and checksums of an EDID file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := loadEdidFile(args[0])
			if err != nil {
				return printError(cmd, "Unable to load EDID", err)
			}
			if len(data) >= len(edid.Header) && !edid.HasHeader(data) {
				return printError(cmd, "Invalid EDID", edid.ErrBadHeader)
			}
			if err := edid.Validate(data); err != nil {
				return printError(cmd, "Invalid EDID", err)
			}
			printSuccess(cmd, "Valid EDID (%d bytes)", len(data))
			return nil
		},
	}
}

func newEdidFixCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fix FILE",
		Short: "Recompute the checksum byte of every block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := loadEdidFile(args[0])
			if err != nil {
				return printError(cmd, "Unable to load EDID", err)
			}
			fixed, err := edid.FixAll(data)
			if err != nil {
				return printError(cmd, "Unable to fix EDID", err)
			}
			if output == "" {
				output = args[0]
			}
			if err := os.WriteFile(output, fixed, 0644); err != nil {
				return printError(cmd, "Unable to write "+output, err)
			}
			diffs := edid.Diff(data, fixed)
			if len(diffs) == 0 {
				printSuccess(cmd, "Checksums already valid, %s written", output)
				return nil
			}
			printSuccess(cmd, "%d checksum byte(s) fixed, %s written", len(diffs), output)
			printDiffs(cmd, diffs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, the input file when empty")
	return cmd
}

func newEdidDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff FILE_A FILE_B",
		Short: "Compare two EDID files byte by byte",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadEdidFile(args[0])
			if err != nil {
				return printError(cmd, "Unable to load EDID", err)
			}
			b, err := loadEdidFile(args[1])
			if err != nil {
				return printError(cmd, "Unable to load EDID", err)
			}
			comparison := edid.Compare(a, b)
			if comparison.Equal {
				printSuccess(cmd, "Identical (%d bytes)", comparison.LengthA)
				return nil
			}
			if comparison.LengthA != comparison.LengthB {
				printWarning(cmd, "Length differs: %d != %d", comparison.LengthA, comparison.LengthB)
			}
			printDiffs(cmd, comparison.Diffs)
			return fmt.Errorf("EDID files differ")
		},
	}
}

func newEdidSaveCmd(opts *globalOptions) *cobra.Command {
	var saveOptions store.SaveOptions
	cmd := &cobra.Command{
		Use:   "save FILE NAME",
		Short: "Store an EDID file under a label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			edidManager, _, err := opts.edidManager()
			if err != nil {
				return printError(cmd, "Unable to load configuration", err)
			}
			data, err := loadEdidFile(args[0])
			if err != nil {
				return printError(cmd, "Unable to load EDID", err)
			}
			path, err := edidManager.Save(data, args[1], saveOptions)
			if err != nil {
				return printError(cmd, "Unable to save EDID", err)
			}
			printSuccess(cmd, "Saved to %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&saveOptions.Overwrite, "overwrite", false, "Replace an existing file with the same name")
	cmd.Flags().BoolVar(&saveOptions.Strict, "strict", false, "Validate every block, not only the base checksum")
	return cmd
}

func newEdidMatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match FILE",
		Short: "Find the stored EDIDs identical to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edidManager, _, err := opts.edidManager()
			if err != nil {
				return printError(cmd, "Unable to load configuration", err)
			}
			data, err := loadEdidFile(args[0])
			if err != nil {
				return printError(cmd, "Unable to load EDID", err)
			}
			matches, err := edidManager.FindMatches(data)
			if err != nil {
				return printError(cmd, "Unable to search saved EDIDs", err)
			}
			if len(matches) == 0 {
				printWarning(cmd, "No saved EDID matches")
				return nil
			}
			for _, match := range matches {
				printSuccess(cmd, "%s", match.Filename)
			}
			return nil
		},
	}
}

func newEdidListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored EDIDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			edidManager, _, err := opts.edidManager()
			if err != nil {
				return printError(cmd, "Unable to load configuration", err)
			}
			entries, err := edidManager.ListSaved()
			if err != nil {
				return printError(cmd, "Unable to list saved EDIDs", err)
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", entry.Filename, entry.Size, entry.Hash[:16])
			}
			return nil
		},
	}
}

func newEdidWriteCmd(opts *globalOptions) *cobra.Command {
	var (
		transport string
		saved     bool
		noVerify  bool
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "write FILE TARGET",
		Short: "Write an EDID to a connector override or a DDC EEPROM",
		Long: `Write an EDID to a connector override (drm) or a DDC EEPROM (i2c).

With --saved, FILE names a stored EDID. --force skips the header and checksum
checks but never the 128 byte minimum.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			edidManager, _, err := opts.edidManager()
			if err != nil {
				return printError(cmd, "Unable to load configuration", err)
			}
			request := manager.WriteRequest{Transport: transport, Target: args[1], Force: force}
			if noVerify {
				verify := false
				request.Verify = &verify
			}

			var result *edid.WriteResult
			if saved {
				result, err = edidManager.WriteSaved(cmd.Context(), args[0], request)
			} else {
				var data []byte
				data, err = loadEdidFile(args[0])
				if err != nil {
					return printError(cmd, "Unable to load EDID", err)
				}
				result, err = edidManager.Write(cmd.Context(), data, request)
			}
			if err != nil {
				var writeErr *edid.WriteError
				if errors.As(err, &writeErr) && len(writeErr.Diffs) > 0 {
					printDiffs(cmd, writeErr.Diffs)
				}
				return printError(cmd, "Unable to write EDID", err)
			}

			if result.Forced {
				printWarning(cmd, "Validation skipped")
			}
			if result.Verified {
				printSuccess(cmd, "%d bytes written to %s:%s and verified", result.BytesWritten, result.Transport, result.Target)
			} else {
				printSuccess(cmd, "%d bytes written to %s:%s", result.BytesWritten, result.Transport, result.Target)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", "drm", "Transport: drm or i2c")
	cmd.Flags().BoolVar(&saved, "saved", false, "FILE is the name of a stored EDID")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip the readback verification")
	cmd.Flags().BoolVar(&force, "force", false, "Write an EDID failing validation")
	return cmd
}
