package reminder

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// WriterNotifier prints fired reminders, optionally ringing the terminal
// bell first.
type WriterNotifier struct {
	W    io.Writer
	Bell bool

	mu sync.Mutex
}

func (w *WriterNotifier) Notify(_ context.Context, n Notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder
	if w.Bell {
		b.WriteString("\a")
	}
	b.WriteString(FormatNotification(n))
	b.WriteString("\n")
	_, err := io.WriteString(w.W, b.String())
	return err
}

// FormatNotification renders a one-line reminder message.
func FormatNotification(n Notification) string {
	line := fmt.Sprintf("Reminder: %s (due %s)", n.Title, n.Due.Format("2006-01-02 15:04"))
	if body := strings.TrimSpace(n.Body); body != "" {
		first, _, _ := strings.Cut(body, "\n")
		line += ": " + first
	}
	return line
}
