package main

import (
	"vmbroker/cmd"
	"vmbroker/internal/logging"
)

func main() {
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		// Sync errors on stdout are harmless on most platforms
		_ = logging.Sync()
	}()

	cmd.Execute()
}
