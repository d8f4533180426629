package main

import (
	"os"

	"github.com/kursadbilgin/push-engine/cmd/pushengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
