// Command folioctl runs refresh, recompute and conversion operations against
// the folio data directory without the HTTP server.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/aristath/folio/cmd/folioctl/cmd"
	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range cmd.Commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
