//go:build linux

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rustbox/rustbox-go/internal/cli"
	"github.com/rustbox/rustbox-go/internal/lock"
	"github.com/rustbox/rustbox-go/internal/supervisor"
)

// Application entry point. The first argv slot is checked for the two
// hidden re-exec subcommands before the real CLI parses anything: both
// the Proxy and the Inside process are this same binary, launched by
// the supervisor against a fixed argv rather than a separate binary.
func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case supervisor.ReexecProxyArg:
			supervisor.RunProxy()
			return
		case supervisor.ReexecInsideArg:
			supervisor.RunInside()
			return
		}
	}

	reaper := lock.NewReaper(cli.LockRoot())
	go reaper.Run()
	defer reaper.Stop()

	if err := cli.ParseCli(context.Background(), os.Args); err != nil {
		type silencer interface{ Silent() bool }
		if s, ok := err.(silencer); !ok || !s.Silent() {
			fmt.Fprintln(os.Stderr, "rustbox:", err)
		}
		if ec, ok := err.(cli.ExitCoder); ok {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}
