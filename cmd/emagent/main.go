// Command emagent is the endpoint monitoring agent: collector service,
// session relay and control client.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/emagent/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "emagent:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
