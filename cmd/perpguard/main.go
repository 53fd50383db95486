package main

import (
	"os"

	"github.com/pkrawiec/perpguard/cmd/perpguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
