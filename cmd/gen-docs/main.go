package main

import (
	"flag"
	"log"
	"os"

	"github.com/gadget-inc/clonefs/pkg/cli"
	"github.com/spf13/cobra/doc"
)

func main() {
	dir := flag.String("doc-path", "./docs/clonefs", "Path directory where you want generated doc files")
	flag.Parse()

	err := os.MkdirAll(*dir, 0755)
	if err != nil {
		log.Fatal(err)
	}

	err = doc.GenMarkdownTree(cli.NewRootCommand(), *dir)
	if err != nil {
		log.Fatal(err)
	}
}
