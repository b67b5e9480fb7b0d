// Command mixnetctl is the operator CLI for a running mixnoded: it talks
// to the daemon's local control HTTP API to inspect queue/session state
// and to inject a test request packet.
package main

import "github.com/dantte-lp/gomixnet/cmd/mixnetctl/commands"

func main() {
	commands.Execute()
}
