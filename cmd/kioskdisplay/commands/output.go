package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func printSuccess(cmd *cobra.Command, format string, a ...interface{}) {
	green.Fprintf(cmd.OutOrStdout(), "✓ "+format+"\n", a...)
}

func printWarning(cmd *cobra.Command, format string, a ...interface{}) {
	yellow.Fprintf(cmd.OutOrStdout(), format+"\n", a...)
}

// printError prints title and the error kind to stderr and returns an error
// for cobra.
func printError(cmd *cobra.Command, title string, err error) error {
	red.Fprintf(cmd.ErrOrStderr(), "%s\n", title)
	fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
	if kind := edid.Classify(err); kind != edid.KindNone && kind != edid.KindIO {
		fmt.Fprintf(cmd.ErrOrStderr(), "(%s)\n", kind)
	}
	return fmt.Errorf("%s: %w", title, err)
}

func printDiffs(cmd *cobra.Command, diffs []edid.ByteDiff) {
	for _, d := range diffs {
		fmt.Fprintf(cmd.OutOrStdout(), "  0x%02X: ", d.Offset)
		red.Fprintf(cmd.OutOrStdout(), "%02X", d.A)
		fmt.Fprint(cmd.OutOrStdout(), " != ")
		green.Fprintf(cmd.OutOrStdout(), "%02X\n", d.B)
	}
}

func printInfo(cmd *cobra.Command, info *edid.Info) {
	out := cmd.OutOrStdout()
	cyan.Fprintf(out, "Manufacturer: ")
	fmt.Fprintf(out, "%s\n", info.Manufacturer)
	cyan.Fprintf(out, "Product code: ")
	fmt.Fprintf(out, "0x%04X\n", info.ProductCode)
	cyan.Fprintf(out, "Serial:       ")
	fmt.Fprintf(out, "%d\n", info.Serial)
	cyan.Fprintf(out, "Manufactured: ")
	fmt.Fprintf(out, "week %d of %d\n", info.Week, info.Year)
	cyan.Fprintf(out, "Extensions:   ")
	fmt.Fprintf(out, "%d\n", info.ExtensionCount)
}
