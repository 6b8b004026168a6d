// Command accessrl runs the distributed access rate limiter as a
// standalone HTTP server, and provides supporting config/version
// subcommands.
package main

import "github.com/elfnet/accessrl/cmd/accessrl/cmd"

func main() {
	cmd.Execute()
}
