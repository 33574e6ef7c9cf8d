package main

import (
	"context"
	"os"

	"github.com/stake-plus/govvote/src/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
