package cli

import (
	"context"
	"strings"

	"github.com/citydata-labs/urbanclerk/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)
	flags = append(flags, chatLogFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a single question and exit",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return goerr.New("question is required")
			}

			logger, closeLogger, err := cfg.newLogger()
			if err != nil {
				return err
			}
			defer closeLogger()
			ctx = logging.With(ctx, logger)

			session, err := cfg.newSession(ctx)
			if err != nil {
				return err
			}

			runTurn(ctx, c.Root().Writer, session, query)
			return nil
		},
	}
}
