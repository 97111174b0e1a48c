package main

import (
	"os"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/cmd"
)

func main() {
	os.Exit(cli.Execute(cmd.NewRootCmd()))
}
