// Command ledgerctl runs operator tasks against the gold ledger database:
// schema migrations and read-only inspection of owners.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&migrateCmd{}, "schema")
	commander.Register(&summaryCmd{}, "inspect")
	commander.Register(&historyCmd{}, "inspect")
	commander.Register(&lotsCmd{}, "inspect")
	commander.Register(&reconcileCmd{}, "inspect")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
