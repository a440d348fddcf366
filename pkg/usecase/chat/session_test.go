package chat_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/citydata-labs/urbanclerk/pkg/adapter"
	"github.com/citydata-labs/urbanclerk/pkg/model"
	"github.com/citydata-labs/urbanclerk/pkg/repository"
	"github.com/citydata-labs/urbanclerk/pkg/usecase/chat"
	"github.com/citydata-labs/urbanclerk/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

// Mock Embedder
type mockEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.vector, nil
}

// Mock VectorIndex
type mockIndex struct {
	matches []*model.Match
	err     error

	gotVector    []float32
	gotTopK      int
	gotNamespace string
}

func (m *mockIndex) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]*model.Match, error) {
	m.gotVector = vector
	m.gotTopK = topK
	m.gotNamespace = namespace
	if m.err != nil {
		return nil, m.err
	}
	return m.matches, nil
}

func (m *mockIndex) DescribeStats(ctx context.Context) (*model.IndexStats, error) {
	return &model.IndexStats{Dimension: 768}, nil
}

// Mock ChatModel with a scripted stream
type mockChat struct {
	fragments []string
	failAfter error // returned by Recv after all fragments
	openErr   error

	calls          int
	gotTranscripts [][]model.Message
}

func (m *mockChat) ChatStream(ctx context.Context, messages []model.Message) (adapter.ChatStream, error) {
	m.calls++
	copied := make([]model.Message, len(messages))
	copy(copied, messages)
	m.gotTranscripts = append(m.gotTranscripts, copied)

	if m.openErr != nil {
		return nil, m.openErr
	}
	return &mockStream{fragments: m.fragments, failAfter: m.failAfter}, nil
}

type mockStream struct {
	fragments []string
	failAfter error
	pos       int
	closed    bool
}

func (m *mockStream) Recv() (string, error) {
	if m.pos < len(m.fragments) {
		frag := m.fragments[m.pos]
		m.pos++
		return frag, nil
	}
	if m.failAfter != nil {
		return "", m.failAfter
	}
	return "", io.EOF
}

func (m *mockStream) Close() error {
	m.closed = true
	return nil
}

// Mock ChatLog
type mockChatLog struct {
	entries []*repository.LogEntry
	err     error
}

func (m *mockChatLog) Append(entry *repository.LogEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockChatLog) Entries() ([]*repository.LogEntry, error) {
	return m.entries, nil
}

type testDeps struct {
	embedder *mockEmbedder
	index    *mockIndex
	chatter  *mockChat
	chatLog  *mockChatLog
}

func newTestDeps() *testDeps {
	return &testDeps{
		embedder: &mockEmbedder{vector: []float32{0.1, 0.2, 0.3}},
		index:    &mockIndex{matches: []*model.Match{payrollMatch("rec-1"), payrollMatch("rec-2"), payrollMatch("rec-3")}},
		chatter:  &mockChat{fragments: []string{"JOHN SMITH earns ", "$85,292.00 per year."}},
		chatLog:  &mockChatLog{},
	}
}

func newTestSession(t *testing.T, deps *testDeps) *chat.Session {
	session, err := chat.New(chat.NewInput{
		Embedder:  deps.embedder,
		Index:     deps.index,
		Chat:      deps.chatter,
		ChatLog:   deps.chatLog,
		Namespace: "nyc-city-payroll",
		TopK:      3,
	})
	gt.NoError(t, err)
	return session
}

func TestAskSuccessfulTurn(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "How much does John Smith earn?")

	gt.Equal(t, result.Kind, chat.TurnAnswered)
	gt.Equal(t, result.Reply, "JOHN SMITH earns $85,292.00 per year.")

	// system + augmented user + assistant
	transcript := session.Transcript()
	gt.A(t, transcript).Length(3)
	gt.Equal(t, transcript[0].Role, model.RoleSystem)
	gt.Equal(t, transcript[0].Content, chat.SystemPrompt)
	gt.Equal(t, transcript[1].Role, model.RoleUser)
	gt.Equal(t, transcript[2].Role, model.RoleAssistant)
	gt.Equal(t, transcript[2].Content, result.Reply)

	// The model sees the augmented question but the raw query is what
	// gets logged
	gt.A(t, deps.chatLog.entries).Length(1)
	gt.Equal(t, deps.chatLog.entries[0].Question, "How much does John Smith earn?")
	gt.Equal(t, deps.chatLog.entries[0].Answer, result.Reply)
}

func TestAskAugmentedMessageFormat(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "Who works in Manhattan?")
	gt.Equal(t, result.Kind, chat.TurnAnswered)

	gt.A(t, deps.chatter.gotTranscripts).Length(1)
	sent := deps.chatter.gotTranscripts[0]
	augmented := sent[len(sent)-1]

	gt.Equal(t, augmented.Role, model.RoleUser)
	gt.True(t, strings.HasPrefix(augmented.Content, "Context:\n"))
	gt.True(t, strings.HasSuffix(augmented.Content, "\n\nQuestion: Who works in Manhattan?"))
	gt.S(t, augmented.Content).Contains("Work Location Borough: MANHATTAN")
}

func TestAskRefusesWithoutMatches(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	deps.index.matches = nil
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "Who is the mayor of Tokyo?")

	gt.Equal(t, result.Kind, chat.TurnRefused)
	gt.Equal(t, result.Reply, "I'm sorry, I don't have enough information to answer that based on the available data.")

	// Refused turns leave no trace: no model call, no transcript growth,
	// no log entry
	gt.Equal(t, deps.chatter.calls, 0)
	gt.A(t, session.Transcript()).Length(1)
	gt.A(t, deps.chatLog.entries).Length(0)
}

func TestAskUnansweredLoggingToggle(t *testing.T) {
	newSession := func(t *testing.T, deps *testDeps, enabled bool) *chat.Session {
		session, err := chat.New(chat.NewInput{
			Embedder:      deps.embedder,
			Index:         deps.index,
			Chat:          deps.chatter,
			ChatLog:       deps.chatLog,
			Namespace:     "nyc-city-payroll",
			TopK:          3,
			LogUnanswered: enabled,
		})
		gt.NoError(t, err)
		return session
	}

	t.Run("enabled", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := logging.With(context.Background(), logging.New("warn", &buf))
		deps := newTestDeps()
		deps.index.matches = nil
		session := newSession(t, deps, true)

		result := session.Ask(ctx, "Who is the mayor of Tokyo?")

		gt.Equal(t, result.Kind, chat.TurnRefused)
		gt.S(t, buf.String()).Contains("refusing question without context")
		gt.S(t, buf.String()).Contains("Who is the mayor of Tokyo?")
	})

	t.Run("disabled", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := logging.With(context.Background(), logging.New("warn", &buf))
		deps := newTestDeps()
		deps.index.matches = nil
		session := newSession(t, deps, false)

		result := session.Ask(ctx, "Who is the mayor of Tokyo?")

		gt.Equal(t, result.Kind, chat.TurnRefused)
		gt.S(t, buf.String()).NotContains("refusing question without context")
	})
}

func TestAskRefusesOnEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	deps.embedder.err = goerr.New("connection refused")
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "How much does John Smith earn?")

	gt.Equal(t, result.Kind, chat.TurnRefused)
	gt.Equal(t, deps.chatter.calls, 0)
	gt.A(t, session.Transcript()).Length(1)
}

func TestAskRefusesOnIndexFailure(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	deps.index.err = goerr.New("index unreachable")
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "How much does John Smith earn?")

	gt.Equal(t, result.Kind, chat.TurnRefused)
	gt.Equal(t, deps.chatter.calls, 0)
	gt.A(t, session.Transcript()).Length(1)
}

func TestAskFailsWhenStreamBreaksMidReply(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	deps.chatter.fragments = []string{"partial ", "reply "}
	deps.chatter.failAfter = goerr.New("connection reset")
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "How much does John Smith earn?")

	gt.Equal(t, result.Kind, chat.TurnFailed)
	gt.True(t, errors.Is(result.Err, model.ErrGenerationFailed))

	// Partial fragments are discarded, nothing is committed
	gt.A(t, session.Transcript()).Length(1)
	gt.A(t, deps.chatLog.entries).Length(0)
}

func TestAskFailsWhenStreamCannotOpen(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	deps.chatter.openErr = goerr.New("model not found")
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "How much does John Smith earn?")

	gt.Equal(t, result.Kind, chat.TurnFailed)
	gt.True(t, errors.Is(result.Err, model.ErrGenerationFailed))
	gt.A(t, session.Transcript()).Length(1)
}

func TestAskConsecutiveTurns(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	session := newTestSession(t, deps)

	first := session.Ask(ctx, "first question")
	second := session.Ask(ctx, "second question")
	gt.Equal(t, first.Kind, chat.TurnAnswered)
	gt.Equal(t, second.Kind, chat.TurnAnswered)

	// 1 system + 2 per successful turn
	gt.A(t, session.Transcript()).Length(5)

	// The second model call includes the first full exchange
	gt.A(t, deps.chatter.gotTranscripts).Length(2)
	gt.A(t, deps.chatter.gotTranscripts[1]).Length(4)

	// Log entries in chronological append order
	gt.A(t, deps.chatLog.entries).Length(2)
	gt.Equal(t, deps.chatLog.entries[0].Question, "first question")
	gt.Equal(t, deps.chatLog.entries[1].Question, "second question")
	gt.True(t, !deps.chatLog.entries[1].Timestamp.Before(deps.chatLog.entries[0].Timestamp))
}

func TestAskSurvivesLogFailure(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	deps.chatLog.err = goerr.New("disk full")
	session := newTestSession(t, deps)

	result := session.Ask(ctx, "How much does John Smith earn?")

	// The reply was already produced; a log failure must not fail the turn
	gt.Equal(t, result.Kind, chat.TurnAnswered)
	gt.A(t, session.Transcript()).Length(3)
}

func TestAskPassesRetrievalParameters(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	session, err := chat.New(chat.NewInput{
		Embedder:  deps.embedder,
		Index:     deps.index,
		Chat:      deps.chatter,
		ChatLog:   deps.chatLog,
		Namespace: "test-namespace",
		TopK:      7,
	})
	gt.NoError(t, err)

	result := session.Ask(ctx, "anything")
	gt.Equal(t, result.Kind, chat.TurnAnswered)

	gt.Equal(t, deps.index.gotTopK, 7)
	gt.Equal(t, deps.index.gotNamespace, "test-namespace")
	gt.A(t, deps.index.gotVector).Length(3)
}

func TestNewRequiresDependencies(t *testing.T) {
	deps := newTestDeps()

	_, err := chat.New(chat.NewInput{
		Index:     deps.index,
		Chat:      deps.chatter,
		ChatLog:   deps.chatLog,
		Namespace: "ns",
	})
	gt.Error(t, err)

	_, err = chat.New(chat.NewInput{
		Embedder: deps.embedder,
		Index:    deps.index,
		Chat:     deps.chatter,
		ChatLog:  deps.chatLog,
	})
	gt.Error(t, err)
}

func TestSystemPromptPolicy(t *testing.T) {
	gt.S(t, chat.SystemPrompt).Contains("only the provided context")
	gt.S(t, strings.ToLower(chat.SystemPrompt)).Contains("avoid guessing")
}
