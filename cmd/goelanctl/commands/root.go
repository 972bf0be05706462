package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/goelan/internal/server"
)

var (
	// client is the admin API client, initialized in PersistentPreRunE.
	client *server.Client

	// outputFormat controls the output format for all commands.
	outputFormat string

	// serverAddr is the daemon admin address (host:port).
	serverAddr string

	// callTimeout bounds every admin call.
	callTimeout time.Duration
)

// rootCmd is the top-level cobra command for goelanctl.
var rootCmd = &cobra.Command{
	Use:   "goelanctl",
	Short: "CLI client for the goelan daemon",
	Long: "goelanctl talks to the goelan daemon over ConnectRPC to inspect designated-switch " +
		"elections, publish topology events and manage DHCP ports.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = server.NewClient(http.DefaultClient, "http://"+serverAddr)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50061",
		"goelan daemon admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatTable,
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second,
		"timeout for each admin call")

	rootCmd.AddCommand(designationsCmd())
	rootCmd.AddCommand(membersCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(portCmd())
	rootCmd.AddCommand(flowsCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// call invokes one admin procedure under the configured timeout.
func call(ctx context.Context, procedure string, fields map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return client.CallFields(ctx, procedure, fields)
}

// callStruct is call with an already encoded request message.
func callStruct(ctx context.Context, procedure string, req *structpb.Struct) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return client.Call(ctx, procedure, req)
}
