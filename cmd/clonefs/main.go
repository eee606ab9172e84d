package main

import (
	"os"

	"github.com/gadget-inc/clonefs/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
