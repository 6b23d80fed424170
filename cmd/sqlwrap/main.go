// Command sqlwrap runs statements through the sqlwrap adapter from the
// command line.
package main

import (
	"os"

	"github.com/CaliLuke/go-sqlwrap/cmd/sqlwrap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
