// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/botiapa/p2pthing/internal/broker"
	"github.com/botiapa/p2pthing/internal/eventloop"
	"github.com/botiapa/p2pthing/internal/ui/logfront"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// defaultBrokerPort matches spec.md's broker default of 42069, overridable
// via the PORT environment variable.
const defaultBrokerPort = "42069"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "p2pthing"
	myApp.Usage = "peer-to-peer chat, voice and file transfer over punched-through UDP"
	myApp.Version = VERSION
	myApp.ArgsUsage = "[role] [rendezvous host:port]"
	myApp.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "multicast",
			Usage: "also discover peers via LAN multicast",
		},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	role := "t"
	if c.NArg() > 0 {
		role = c.Args().Get(0)
	}

	switch role {
	case "s":
		return runBroker()
	case "t", "g":
		rendezvousAddr := "127.0.0.1:42069"
		if c.NArg() > 1 {
			rendezvousAddr = c.Args().Get(1)
		}
		return runClient(rendezvousAddr, c.Bool("multicast"))
	default:
		return fmt.Errorf("unknown role %q: expected t, g or s", role)
	}
}

func runBroker() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultBrokerPort
	}
	srv, err := broker.New("0.0.0.0:" + port)
	if err != nil {
		return err
	}
	go waitForSignal(func() { srv.Close() })
	return srv.Run()
}

func runClient(rendezvousAddr string, multicastOn bool) error {
	client, err := eventloop.New(eventloop.Options{
		BrokerAddress: rendezvousAddr,
		Multicast:     multicastOn,
	})
	if err != nil {
		return err
	}
	front := logfront.New(client.UI)
	go front.Run()
	watchDebugDump(client)
	go waitForSignal(func() { client.Stop() })
	return client.Run()
}

func waitForSignal(onSignal func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	onSignal()
}
