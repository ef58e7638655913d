package main

import (
	"fmt"
	"os"

	"github.com/mwantia/assetsync/cmd/assetsync/cli"
	"github.com/mwantia/assetsync/cmd/assetsync/cli/engine"
	"github.com/mwantia/assetsync/cmd/assetsync/cli/tools"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewVersionCommand())

	root.AddCommand(engine.NewSyncCommand())
	root.AddCommand(engine.NewCheckCommand())
	root.AddCommand(engine.NewRetryCommand())
	root.AddCommand(engine.NewVerifyCommand())
	root.AddCommand(engine.NewFixPermsCommand())
	root.AddCommand(engine.NewCleanupCommand())

	root.AddCommand(tools.NewListCommand())
	root.AddCommand(tools.NewConfigCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
