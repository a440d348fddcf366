package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var (
		cfg  config
		tail int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "tail",
			Aliases:     []string{"t"},
			Usage:       "Number of most recent exchanges to show",
			Value:       10,
			Sources:     cli.EnvVars("URBANCLERK_HISTORY_TAIL"),
			Destination: &tail,
		},
	}
	flags = append(flags, chatLogFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Show recent exchanges from the chat log",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			chatLog, err := cfg.newChatLog()
			if err != nil {
				return err
			}

			entries, err := chatLog.Entries()
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(entries) == 0 {
				fmt.Fprintf(w, "No exchanges recorded yet\n")
				return nil
			}

			if tail > 0 && int64(len(entries)) > tail {
				entries = entries[int64(len(entries))-tail:]
			}

			for i, entry := range entries {
				if i > 0 {
					fmt.Fprintln(w)
				}
				md := fmt.Sprintf("### %s\n\n**You:** %s\n\n**Assistant:**\n%s",
					entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Question, entry.Answer)
				fmt.Fprintln(w, renderMarkdown(md))
			}

			return nil
		},
	}
}
