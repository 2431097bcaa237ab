package main

import (
	"github.com/nimburion/nimqueue/pkg/cli"
)

func main() {
	cli.Execute(cli.NewCommand(cli.Options{
		Name:      "nimqueue",
		EnvPrefix: "APP",
	}))
}
