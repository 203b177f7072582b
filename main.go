package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/surface/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
