package main

import (
	"os"

	"github.com/KafClaw/threadrelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
