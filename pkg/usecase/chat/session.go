package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/citydata-labs/urbanclerk/pkg/adapter"
	"github.com/citydata-labs/urbanclerk/pkg/model"
	"github.com/citydata-labs/urbanclerk/pkg/repository"
	"github.com/citydata-labs/urbanclerk/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// SystemPrompt is the grounding policy seeded as the first transcript
// message. It instructs the model to answer only from supplied context.
const SystemPrompt = `You are a factual assistant who answers questions about New York City employees using only the provided context.

If the context does not clearly contain information to answer the question, say you are unsure based on the data.
Avoid guessing, but feel free to reference the exact figures or titles mentioned in the context.`

// RefusalMessage is shown when retrieval produced no usable context. The
// model is never called in that case.
const RefusalMessage = "I'm sorry, I don't have enough information to answer that based on the available data."

// Session owns a conversation transcript and runs the
// retrieve -> augment -> generate -> record pipeline for each question.
// It is not safe for concurrent use; run one session per goroutine.
type Session struct {
	embedder adapter.Embedder
	index    adapter.VectorIndex
	chat     adapter.ChatModel
	chatLog  repository.ChatLog

	id            model.SessionID
	namespace     string
	topK          int
	logUnanswered bool

	messages []model.Message
}

// NewInput contains parameters for creating a session
type NewInput struct {
	Embedder adapter.Embedder
	Index    adapter.VectorIndex
	Chat     adapter.ChatModel
	ChatLog  repository.ChatLog

	Namespace string
	TopK      int

	// LogUnanswered records refused questions in the error log for later
	// analysis of retrieval coverage.
	LogUnanswered bool
}

func New(input NewInput) (*Session, error) {
	if input.Embedder == nil {
		return nil, goerr.New("embedder is required")
	}
	if input.Index == nil {
		return nil, goerr.New("vector index is required")
	}
	if input.Chat == nil {
		return nil, goerr.New("chat model is required")
	}
	if input.ChatLog == nil {
		return nil, goerr.New("chat log is required")
	}
	if input.Namespace == "" {
		return nil, goerr.New("namespace is required")
	}

	topK := input.TopK
	if topK < 1 {
		topK = 3
	}

	return &Session{
		embedder: input.Embedder,
		index:    input.Index,
		chat:     input.Chat,
		chatLog:  input.ChatLog,

		id:            model.NewSessionID(),
		namespace:     input.Namespace,
		topK:          topK,
		logUnanswered: input.LogUnanswered,

		messages: []model.Message{model.NewSystemMessage(SystemPrompt)},
	}, nil
}

// ID returns the session identifier used for log correlation
func (s *Session) ID() model.SessionID {
	return s.id
}

// Transcript returns a copy of the conversation so far
func (s *Session) Transcript() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

type TurnKind int

const (
	// TurnAnswered means the model produced a reply and the transcript
	// grew by the question and the answer.
	TurnAnswered TurnKind = iota
	// TurnRefused means no context was available; the transcript is
	// untouched and Reply holds the refusal message.
	TurnRefused
	// TurnFailed means generation broke; the transcript is untouched and
	// Err holds the failure.
	TurnFailed
)

// TurnResult is the outcome of one question
type TurnResult struct {
	Kind  TurnKind
	Reply string
	Err   error
}

// Ask runs one full turn. It never returns an abnormal state to the
// caller beyond the TurnResult: retrieval failures degrade to a refusal
// and generation failures abandon the turn, so the session loop always
// survives.
func (s *Session) Ask(ctx context.Context, query string) *TurnResult {
	logger := s.logger(ctx)

	contextBlock := s.retrieve(ctx, query)
	if contextBlock == "" {
		if s.logUnanswered {
			logger.Warn("refusing question without context", "question", query)
		}
		return &TurnResult{Kind: TurnRefused, Reply: RefusalMessage}
	}

	augmented := model.NewUserMessage(fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, query))

	// The augmented message is committed only after generation succeeds,
	// so a failed turn leaves no trace in the transcript.
	transcript := make([]model.Message, 0, len(s.messages)+1)
	transcript = append(transcript, s.messages...)
	transcript = append(transcript, augmented)

	logger.Debug("generating reply", "context_bytes", len(contextBlock), "transcript_len", len(transcript))

	reply, err := s.generate(ctx, transcript)
	if err != nil {
		err = errors.Join(model.ErrGenerationFailed, err)
		logger.Error("failed to generate reply", "error", err)
		return &TurnResult{Kind: TurnFailed, Err: err}
	}

	s.messages = append(s.messages, augmented, model.NewAssistantMessage(reply))

	// The reply has already been produced; a logging failure must not
	// fail the turn.
	if err := s.chatLog.Append(&repository.LogEntry{
		Timestamp: time.Now(),
		Question:  query,
		Answer:    reply,
	}); err != nil {
		logger.Error("failed to record exchange", "error", err)
	}

	return &TurnResult{Kind: TurnAnswered, Reply: reply}
}

// retrieve embeds the query and fetches neighboring records. Any failure
// degrades to "no context" rather than aborting the turn.
func (s *Session) retrieve(ctx context.Context, query string) string {
	logger := s.logger(ctx)

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		logger.Error("embedding failed, answering without context",
			"error", errors.Join(model.ErrRetrievalFailed, err))
		return ""
	}

	matches, err := s.index.Query(ctx, vector, s.topK, s.namespace)
	if err != nil {
		logger.Error("index query failed, answering without context",
			"error", errors.Join(model.ErrRetrievalFailed, err))
		return ""
	}

	logger.Debug("retrieved matches", "count", len(matches), "top_k", s.topK, "namespace", s.namespace)

	return BuildContext(ctx, matches)
}

// generate drains the chat stream into a single reply string
func (s *Session) generate(ctx context.Context, transcript []model.Message) (string, error) {
	stream, err := s.chat.ChatStream(ctx, transcript)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open chat stream")
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", goerr.Wrap(err, "chat stream broke mid-reply")
		}
		sb.WriteString(fragment)
	}

	return sb.String(), nil
}

func (s *Session) logger(ctx context.Context) *slog.Logger {
	return logging.From(ctx).With("session", string(s.id))
}
