package main

import (
	"os"

	"github.com/mohamedkhairy/swing-detector/cmd/swingctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
