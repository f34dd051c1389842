package main

import (
	"os"

	"github.com/sandbuild/sandbuild/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
