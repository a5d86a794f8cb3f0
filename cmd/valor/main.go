package main

import (
	"os"

	"github.com/ekwalla/valor/cmd/valor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
