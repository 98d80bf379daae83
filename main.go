package main

import (
	"fmt"
	"os"

	"github.com/mainthub/notifier/cmd"
	"github.com/mainthub/notifier/internal/buildinfo"
)

// buildDate and version are set with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	buildDate string
	version   string
)

func main() {
	build := buildinfo.NewContext(version, buildDate)

	rootCmd := cmd.RootCommand(build)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
