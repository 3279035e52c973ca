// Command msgtaskd runs a control task fed by concurrent producers and a
// heartbeat pulser, and exports their metrics to Prometheus.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "msgtaskd",
		Usage: "message task demo daemon",
		Commands: []*cli.Command{
			RunCommand(),
			ConfigCommand(),
		},
	}
}
