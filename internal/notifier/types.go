package notifier

import (
	"time"

	kit "steamwatch/internal/transport"
)

// PathAlert labels admin alerts in metrics and events.
const PathAlert = "alert"

// Config controls the async delivery pipeline.
type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
	// AdminTargets receive Alert text.
	AdminTargets []kit.ChatTarget
}

type HistoryItem struct {
	At     time.Time
	Target kit.ChatTarget
	Path   string
	Text   string
	Image  bool
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	Path     string    `json:"path"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
