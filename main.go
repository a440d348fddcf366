package main

import (
	"context"
	"os"

	"github.com/citydata-labs/urbanclerk/pkg/cli"
)

func main() {
	ctx := context.Background()
	if err := cli.Run(ctx, os.Args); err != nil {
		os.Exit(err.Code)
	}
}
