// Command brandrag runs the brand-voice personalization engine: an HTTP API
// for storing and retrieving a user's vectorized content, plus maintenance
// commands for ingestion, retention sweeps and system settings.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/brandrag/cmd/brandrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
