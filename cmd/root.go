package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dLock/cmd/lock"
	"github.com/ValentinKolb/dLock/cmd/serve"
	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dlock",
		Short: "distributed hierarchical lock manager",
		Long: fmt.Sprintf(`dLock (v%s)

A hierarchical distributed lock manager written in Go. Lock rows are kept in
memory, in a SQL database, in Redis or in a RAFT replicated store.`, Version),
		// lock conflicts are reported as errors and need no usage text
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dLock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dLock v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// client and server must agree on both
	f := RootCmd.PersistentFlags()
	f.String("serializer", "json", util.WrapString("Message encoding (json, gob, binary)"))
	f.String("transport", "http", util.WrapString("Network transport (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
