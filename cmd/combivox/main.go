package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logp "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "combivox",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:          "combivox",
	Short:        "Combivox Amica web interface CLI",
	Long:         `A command line interface to debug and control Combivox Amica alarm panels through their web interface.`,
	Version:      fmt.Sprintf("%s (commit %s, built at %s)", version, commit, date),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetLevel(logp.DebugLevel)
		}
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error("command failed", "err", err)
		cancel()
		os.Exit(1)
	}
}
