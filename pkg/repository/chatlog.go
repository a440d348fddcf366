package repository

import (
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// LogEntry is one recorded exchange: the user's raw question and the
// assistant's full reply.
type LogEntry struct {
	Timestamp time.Time
	Question  string
	Answer    string
}

// ChatLog persists exchanges to durable storage. Append is write-only from
// the session's point of view; Entries exists for the log viewer command.
type ChatLog interface {
	Append(entry *LogEntry) error
	Entries() ([]*LogEntry, error)
}

const (
	timestampFormat = "2006-01-02 15:04:05"
	entryHeading    = "### 🕒 "
	entrySeparator  = "\n---\n\n"
)

// fileChatLog appends markdown entries to a single log file. The file is
// opened and closed per append, so no handle outlives a turn.
type fileChatLog struct {
	path string
}

func NewChatLog(path string) (ChatLog, error) {
	if path == "" {
		return nil, goerr.New("chat log path is required")
	}
	return &fileChatLog{path: path}, nil
}

func (l *fileChatLog) Append(entry *LogEntry) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return goerr.Wrap(err, "failed to open chat log", goerr.V("path", l.path))
	}
	defer f.Close()

	var sb strings.Builder
	sb.WriteString(entryHeading + entry.Timestamp.Format(timestampFormat) + "\n")
	sb.WriteString("**You:**\n```\n" + strings.TrimSpace(entry.Question) + "\n```\n\n")
	sb.WriteString("**Assistant:**\n" + strings.TrimSpace(entry.Answer) + "\n")
	sb.WriteString(entrySeparator)

	if _, err := f.WriteString(sb.String()); err != nil {
		return goerr.Wrap(err, "failed to append chat log entry", goerr.V("path", l.path))
	}

	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close chat log", goerr.V("path", l.path))
	}

	return nil
}

func (l *fileChatLog) Entries() ([]*LogEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read chat log", goerr.V("path", l.path))
	}

	// Entries are delimited by their heading lines rather than the trailing
	// rule: an assistant reply may contain horizontal rules of its own.
	var entries []*LogEntry
	var block []string
	flush := func() {
		if len(block) == 0 {
			return
		}
		if entry, ok := parseEntry(strings.Join(block, "\n")); ok {
			entries = append(entries, entry)
		}
		block = block[:0]
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, entryHeading) {
			flush()
		}
		block = append(block, line)
	}
	flush()

	return entries, nil
}

func parseEntry(block string) (*LogEntry, bool) {
	block = strings.TrimSpace(block)
	if !strings.HasPrefix(block, entryHeading) {
		return nil, false
	}

	head, rest, ok := strings.Cut(block, "\n")
	if !ok {
		return nil, false
	}

	ts, err := time.ParseInLocation(timestampFormat, strings.TrimPrefix(head, entryHeading), time.Local)
	if err != nil {
		return nil, false
	}

	rest = strings.TrimPrefix(rest, "**You:**\n```\n")
	question, rest, ok := strings.Cut(rest, "\n```\n\n**Assistant:**\n")
	if !ok {
		return nil, false
	}

	// Strip only the closing rule written by Append; anything before it,
	// rules included, belongs to the answer.
	answer := strings.TrimSuffix(strings.TrimRight(rest, "\n"), "\n---")

	return &LogEntry{
		Timestamp: ts,
		Question:  question,
		Answer:    strings.TrimSpace(answer),
	}, true
}
