package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// Pick up a local .env if present, same as the ingestion scripts do
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:           "urbanclerk",
		Usage:          "Ask questions about NYC payroll records, answered from the citypayroll index",
		DefaultCommand: "chat",
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			historyCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
