package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "alertbase",
		Version:     gitCommitSHA,
		Description: "archival store and query tool for astronomical transient-detection alerts",
		Flags:       NewKlogFlagSet(),
		Commands: []*cli.Command{
			newCmdUploadTarfile(),
			newCmdGetCandidate(),
			newCmdGetObject(),
			newCmdTimeRange(),
			newCmdConeSearch(),
			newCmdStats(),
		},
	}

	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Exitf("alertbase: %v", err)
	}
}
