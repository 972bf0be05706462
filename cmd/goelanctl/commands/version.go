package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/dantte-lp/goelan/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print goelanctl build information",
		Long:  "Prints the goelanctl version. With --format json or yaml the build details are structured.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			info := appversion.Get()
			if outputFormat == formatTable {
				fmt.Println(info.Full("goelanctl"))
				return nil
			}
			out, err := formatObject(info.Map(), nil, outputFormat)
			if err != nil {
				return fmt.Errorf("format version: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
