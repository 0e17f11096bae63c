package main

import (
	"example.com/backstage/services/firmware/cmd"
)

func main() {
	// Execute the root command; logging and configuration are set up by
	// the command's PersistentPreRun
	cmd.Execute()
}
