package main

import (
	"os"

	"github.com/EricBell/profile-gpt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
