package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/citydata-labs/urbanclerk/pkg/usecase/chat"
	"github.com/citydata-labs/urbanclerk/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)
	flags = append(flags, chatLogFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive question answering session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
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

			rl, err := readline.New("You: ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize input")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Ask about NYC payroll records. Type 'exit' to quit.\n")
			logger.Info("session started", "session", session.ID())

			for {
				fmt.Fprintln(w)
				line, err := rl.Readline()
				if err == readline.ErrInterrupt || err == io.EOF {
					fmt.Fprintf(w, "\nSession terminated.\n")
					logger.Info("session interrupted", "session", session.ID())
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				query := strings.TrimSpace(line)
				if query == "" {
					continue
				}
				if strings.EqualFold(query, "exit") {
					logger.Info("session ended by user", "session", session.ID())
					return nil
				}

				runTurn(ctx, w, session, query)
			}
		},
	}
}

// runTurn executes one question and prints the outcome. Failed turns only
// print an apology; the loop keeps running.
func runTurn(ctx context.Context, w io.Writer, session *chat.Session, query string) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " thinking..."
	sp.Start()
	result := session.Ask(ctx, query)
	sp.Stop()

	switch result.Kind {
	case chat.TurnAnswered:
		fmt.Fprintln(w, renderMarkdown("**Assistant:**\n"+strings.TrimSpace(result.Reply)))
	case chat.TurnRefused:
		fmt.Fprintln(w, result.Reply)
	case chat.TurnFailed:
		fmt.Fprintln(w, "Something went wrong. Check the logs.")
	}
}

// renderMarkdown converts a markdown reply to styled terminal output,
// falling back to the raw text when the renderer is unavailable.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}

	out, err := r.Render(md)
	if err != nil {
		return md
	}

	return strings.TrimRight(out, "\n")
}
