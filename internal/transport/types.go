package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// String renders the target in the form accepted by ParseTarget.
func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + ":" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses "<chat_id>" or "<chat_id>:<thread_id>".
func ParseTarget(raw string) (ChatTarget, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("empty target")
	}
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q", chatPart)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(threadPart)
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("invalid thread id %q", threadPart)
		}
		t.ThreadID = tid
	}
	return t, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Image is an in-memory picture sent with an optional caption.
type Image struct {
	Name    string
	Data    []byte
	Caption string
}

// Payload is one outgoing notification: text, or an image with caption.
type Payload struct {
	Text  string
	Image *Image
}

func (p Payload) IsImage() bool { return p.Image != nil && len(p.Image.Data) > 0 }

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendImage(ctx context.Context, to ChatTarget, img Image, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that expose a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
