package main

import (
	"os"

	"github.com/andrew-d/easel/cli"
)

func main() {
	os.Exit(cli.New().Run(os.Args[1:]))
}
