// File: cmd/workerpool/main.go
// Purpose: application entry point and CLI initialization.
//
// This binary plays two roles depending on its environment: ordinarily it
// runs the cobra CLI, but when spawn.ChildModeEnv is set (internal/spawn
// sets it when re-exec'ing this same binary as a worker) it instead runs
// the job executor loop and never reaches the CLI at all.
//
// Version injection via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/workerpool/internal/cli"
	"github.com/ChuLiYu/workerpool/internal/spawn"
	"github.com/ChuLiYu/workerpool/internal/worker"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	if os.Getenv(spawn.ChildModeEnv) != "" {
		if err := worker.RunChild(); err != nil {
			fmt.Fprintf(os.Stderr, "worker child: %v\n", err)
			os.Exit(1)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
