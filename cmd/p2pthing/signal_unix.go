//go:build linux || darwin || freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/botiapa/p2pthing/internal/eventloop"
)

// watchDebugDump installs a SIGUSR1 handler that logs a snapshot of every
// connection's statistics, the same debug hook the teacher wired over
// kcp.DefaultSnmp.
func watchDebugDump(client *eventloop.Client) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			log.Printf("connection snapshot:\n%s", client.DebugSnapshot())
		}
	}()
}
