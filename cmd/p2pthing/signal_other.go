//go:build !linux && !darwin && !freebsd

package main

import "github.com/botiapa/p2pthing/internal/eventloop"

// watchDebugDump is a no-op on platforms without SIGUSR1.
func watchDebugDump(client *eventloop.Client) {}
