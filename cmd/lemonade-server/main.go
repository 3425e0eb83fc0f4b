// Command lemonade-server is the entry point for the local LLM serving
// gateway: process supervision, model catalog, router, and the
// OpenAI-compatible HTTP/WebSocket API described by the lemonade-server
// CLI's subcommands.
package main

import (
	"os"

	"github.com/lemonade-sdk/lemonade-server/cmd/lemonade-server/commands"
)

func main() {
	os.Exit(commands.Execute())
}
