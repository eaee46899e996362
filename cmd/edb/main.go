// Command edb is the engineering database command-line client.
package main

import (
	"os"

	"github.com/roach88/edb/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
