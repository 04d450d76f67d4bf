package main

import (
	"os"

	"github.com/platinummonkey/gatehouse/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
