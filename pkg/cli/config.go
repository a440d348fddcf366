package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/citydata-labs/urbanclerk/pkg/adapter"
	"github.com/citydata-labs/urbanclerk/pkg/model"
	"github.com/citydata-labs/urbanclerk/pkg/repository"
	"github.com/citydata-labs/urbanclerk/pkg/usecase/chat"
	"github.com/citydata-labs/urbanclerk/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values collected from flags and environment
type config struct {
	// Vector index
	pineconeAPIKey string
	indexHost      string
	namespace      string
	topK           int64
	embeddingDim   int64

	// Models
	ollamaURL      string
	embeddingModel string
	chatModel      string

	// Persistence
	chatLogPath   string
	logUnanswered bool

	// Logging
	logLevel string
	logFile  string
}

// globalFlags returns logging flags shared by all commands
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("URBANCLERK_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Log file path (empty logs to stderr)",
			Value:       "urbanclerk.log",
			Sources:     cli.EnvVars("URBANCLERK_LOG_FILE"),
			Destination: &cfg.logFile,
		},
	}
}

// indexFlags returns vector index flags with destination config
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "pinecone-api-key",
			Usage:       "Pinecone API key",
			Sources:     cli.EnvVars("PINECONE_API_KEY"),
			Destination: &cfg.pineconeAPIKey,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "index-host",
			Usage:       "Pinecone index data plane host",
			Sources:     cli.EnvVars("PINECONE_INDEX_HOST"),
			Destination: &cfg.indexHost,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "namespace",
			Aliases:     []string{"n"},
			Usage:       "Index namespace to query",
			Value:       "nyc-city-payroll",
			Sources:     cli.EnvVars("URBANCLERK_NAMESPACE"),
			Destination: &cfg.namespace,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "Number of records to retrieve per question",
			Value:       3,
			Sources:     cli.EnvVars("URBANCLERK_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.IntFlag{
			Name:        "embedding-dim",
			Usage:       "Expected embedding dimensionality, verified against the index at startup",
			Value:       768,
			Sources:     cli.EnvVars("URBANCLERK_EMBEDDING_DIM"),
			Destination: &cfg.embeddingDim,
		},
	}
}

// modelFlags returns Ollama model flags with destination config
func modelFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "ollama-url",
			Usage:       "Base URL of the Ollama server",
			Value:       "http://localhost:11434",
			Sources:     cli.EnvVars("OLLAMA_URL"),
			Destination: &cfg.ollamaURL,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Ollama embedding model",
			Value:       "nomic-embed-text",
			Sources:     cli.EnvVars("URBANCLERK_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "chat-model",
			Usage:       "Ollama chat model",
			Value:       "llama3.2",
			Sources:     cli.EnvVars("URBANCLERK_CHAT_MODEL"),
			Destination: &cfg.chatModel,
		},
	}
}

// chatLogFlags returns chat log flags with destination config
func chatLogFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "chat-log",
			Usage:       "Markdown file recording every exchange",
			Value:       "chat_log.md",
			Sources:     cli.EnvVars("URBANCLERK_CHAT_LOG"),
			Destination: &cfg.chatLogPath,
		},
		&cli.BoolFlag{
			Name:        "log-unanswered",
			Usage:       "Also log questions refused for lack of context",
			Sources:     cli.EnvVars("URBANCLERK_LOG_UNANSWERED"),
			Destination: &cfg.logUnanswered,
		},
	}
}

// newLogger builds the command logger. The returned closer flushes the log
// file, if any.
func (cfg *config) newLogger() (*slog.Logger, func(), error) {
	if cfg.logFile == "" {
		return logging.New(cfg.logLevel, os.Stderr), func() {}, nil
	}

	f, err := os.OpenFile(cfg.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open log file", goerr.V("path", cfg.logFile))
	}

	return logging.New(cfg.logLevel, f), func() { _ = f.Close() }, nil
}

// newOllama creates the embedding/generation client
func (cfg *config) newOllama() *adapter.OllamaClient {
	return adapter.NewOllama(cfg.ollamaURL,
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithChatModel(cfg.chatModel),
	)
}

// newIndex creates the vector index client and verifies that the index is
// reachable and dimensioned for the configured embedding model. Failing
// either check aborts startup.
func (cfg *config) newIndex(ctx context.Context) (adapter.VectorIndex, error) {
	index, err := adapter.NewPinecone(cfg.indexHost, cfg.pineconeAPIKey)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create index client")
	}

	stats, err := index.DescribeStats(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "vector index is unreachable", goerr.V("host", cfg.indexHost))
	}

	if stats.Dimension != int(cfg.embeddingDim) {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "index does not match the embedding model",
			goerr.V("index_dimension", stats.Dimension),
			goerr.V("embedding_dimension", cfg.embeddingDim))
	}

	logging.From(ctx).Debug("vector index ready",
		"dimension", stats.Dimension, "vectors", stats.TotalVectorCount)

	return index, nil
}

// newChatLog creates the markdown exchange log
func (cfg *config) newChatLog() (repository.ChatLog, error) {
	chatLog, err := repository.NewChatLog(cfg.chatLogPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat log")
	}
	return chatLog, nil
}

// newSession wires adapters and the chat log into a conversation session
func (cfg *config) newSession(ctx context.Context) (*chat.Session, error) {
	index, err := cfg.newIndex(ctx)
	if err != nil {
		return nil, err
	}

	chatLog, err := cfg.newChatLog()
	if err != nil {
		return nil, err
	}

	ollama := cfg.newOllama()

	session, err := chat.New(chat.NewInput{
		Embedder:      ollama,
		Index:         index,
		Chat:          ollama,
		ChatLog:       chatLog,
		Namespace:     cfg.namespace,
		TopK:          int(cfg.topK),
		LogUnanswered: cfg.logUnanswered,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create session")
	}

	return session, nil
}
