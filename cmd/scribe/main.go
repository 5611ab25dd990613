package main

import (
	"os"

	"scribe/internal/ui/cli"
)

func main() {
	os.Exit(cli.Execute())
}
