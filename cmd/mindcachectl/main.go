// Command mindcachectl is the control-plane CLI for a mindcache
// authority: create and inspect instances, issue delegate credentials,
// and manage actor permissions over internal/httpserver's REST API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dh7/mindcache/cmd/mindcachectl/envdoc"
	"github.com/dh7/mindcache/cmd/mindcachectl/resource"
	"github.com/dh7/mindcache/internal/cliconfig"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mindcachectl",
		Short: "mindcachectl is a CLI for a mindcache authority",
		Long:  `mindcachectl manages instances, delegates and permissions on a mindcache authority's REST control plane.`,
	}

	cliconfig.Init(rootCmd)

	rootCmd.AddCommand(resource.NewInstancesCmd())
	rootCmd.AddCommand(resource.NewDelegatesCmd())
	rootCmd.AddCommand(resource.NewPermissionsCmd())
	rootCmd.AddCommand(envdoc.NewEnvCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
