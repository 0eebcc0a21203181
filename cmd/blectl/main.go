// blectl drives the BLE host from the command line, against the simulator
// or a serial attached controller.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "blectl"
	app.Usage = "scan, explore and serve over a BLE controller"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "blectl.yaml", Usage: "configuration file"},
		cli.StringFlag{Name: "log", Usage: "log level, overrides the configuration"},
		cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "per operation timeout"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "scan",
			Usage:  "list advertising devices",
			Action: cmdScan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: 5 * time.Second, Usage: "scan duration"},
				cli.BoolFlag{Name: "active", Usage: "request scan responses"},
			},
		},
		{
			Name:   "explore",
			Usage:  "connect, discover the profile and read every readable value",
			Action: cmdExplore,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr, a", Usage: "peer address"},
				cli.BoolFlag{Name: "bond", Usage: "bond before discovery"},
				cli.StringFlag{Name: "passkey", Usage: "passkey to answer a pairing request with"},
				cli.DurationFlag{Name: "sub", Usage: "subscribe to notifications for this long"},
				cli.BoolFlag{Name: "cached", Usage: "use the gatt cache instead of discovering"},
			},
		},
		{
			Name:   "read",
			Usage:  "read one characteristic",
			Action: cmdRead,
			Flags:  charFlags(),
		},
		{
			Name:   "write",
			Usage:  "write one characteristic",
			Action: cmdWrite,
			Flags:  append(charFlags(), cli.StringFlag{Name: "value, v", Usage: "hex encoded value"}),
		},
		{
			Name:   "bond",
			Usage:  "pair and bond with a peer",
			Action: cmdBond,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr, a", Usage: "peer address"},
				cli.BoolFlag{Name: "force", Usage: "pair again even when bonded"},
				cli.StringFlag{Name: "passkey", Usage: "passkey to answer a pairing request with"},
			},
		},
		{
			Name:   "serve",
			Usage:  "advertise and serve the configured services",
			Action: cmdServe,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Usage: "stop after this long, 0 waits for a signal"},
				cli.StringFlag{Name: "accept", Usage: "simulator only: connect this central once advertising"},
			},
		},
		{
			Name:   "clear-cache",
			Usage:  "drop every cached profile",
			Action: cmdClearCache,
		},
	}
	return app
}

func charFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "addr, a", Usage: "peer address"},
		cli.StringFlag{Name: "service, s", Usage: "service uuid"},
		cli.StringFlag{Name: "char, u", Usage: "characteristic uuid"},
	}
}
