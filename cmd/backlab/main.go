package main

import (
	"os"

	"backlab/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
