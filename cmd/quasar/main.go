package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/quasar/pkg/plugin"

	// Registers the standard components with plugin.Default
	_ "github.com/ajitpratap0/quasar/pkg/components"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "quasar",
		Short: "Quasar - graph based ETL engine",
		Long: `Quasar runs ETL graphs: components connected by typed edges that read,
transform and write fixed length, delimited, DBF and SequenceFile data on
local disks, S3 and Google Cloud Storage.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Quasar v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "plugins",
		Short: "List registered plugins",
		Run: func(cmd *cobra.Command, args []string) {
			for _, info := range plugin.Default.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", info.ID, info.Version, info.State)
			}
		},
	})

	root.AddCommand(newRunCommand(viper.New()))
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newDumpCommand())
	return root
}
