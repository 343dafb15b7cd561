package main

import (
	"os"

	"github.com/go-delve/tracecore/cmd/tracecore/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
