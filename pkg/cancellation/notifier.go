package cancellation

import (
	"fmt"
	"io"
	"sync"
)

// Level of a notification
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notification is the user-visible result of a cancellation
type Notification struct {
	Level     Level
	State     State
	RequestID string
	AssetID   string
	Message   string
	Detail    string
	Err       error
}

// Notifier shows notifications to the user
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

// Notify calls fn(n)
func (fn NotifierFunc) Notify(n Notification) {
	fn(n)
}

// WriterNotifier prints one line per notification
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier creates a notifier writing to w
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Notify writes n as a single line
func (wn *WriterNotifier) Notify(n Notification) {
	wn.mu.Lock()
	defer wn.mu.Unlock()

	line := n.Message
	if n.Detail != "" {
		line += " (" + n.Detail + ")"
	}
	_, _ = fmt.Fprintln(wn.w, line)
}
