package eventlogger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/jehiah/go-strftime"
)

const DefaultOutput = "events-%Y%m%d-%H%M%S.log"

// LoggedEvent is one line of the gameplay event log.
type LoggedEvent struct {
	eventType   string
	gameID      string
	who         string
	description string
}

func NewLoggedEvent(eventType string, gameID string, who string, description string) LoggedEvent {
	return LoggedEvent{
		eventType:   eventType,
		gameID:      gameID,
		who:         who,
		description: description,
	}
}

// EventLogger appends gameplay events to a log file, one pipe-separated line
// per event. A nil *EventLogger discards everything.
type EventLogger struct {
	mu     sync.Mutex
	out    *bufio.Writer
	closer io.Closer
	log    *log.Entry
}

// New opens the log file named by output, an strftime pattern.
func New(output string) (*EventLogger, error) {
	if output == "" {
		output = DefaultOutput
	}

	name := strftime.Format(output, time.Now())
	file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	el := NewWithWriter(file)
	el.closer = file
	el.log.Infof("Writing events to %s", name)
	el.Log(NewLoggedEvent("logOpened", "-", "EventLogger", "Log opened upon server startup."))
	return el, nil
}

func NewWithWriter(w io.Writer) *EventLogger {
	return &EventLogger{
		out: bufio.NewWriter(w),
		log: log.WithFields(log.Fields{
			"name":    "EventLogger",
			"modName": "EventLogger",
		}),
	}
}

func sanitize(s string) string {
	return strings.NewReplacer("|", "/", "\n", " ", "\r", " ").Replace(s)
}

func (el *EventLogger) Log(le LoggedEvent) {
	if el == nil {
		return
	}

	timeStr := strftime.Format("%Y-%m-%d %H:%M:%S%z", time.Now())
	line := fmt.Sprintf("%s|%s|%s|%s|%s\n", timeStr, sanitize(le.gameID), sanitize(le.who),
		sanitize(le.eventType), sanitize(le.description))

	el.mu.Lock()
	defer el.mu.Unlock()
	if _, err := el.out.WriteString(line); err != nil {
		el.log.Errorf("failed to write to event log: %s", err)
		return
	}
	if err := el.out.Flush(); err != nil {
		el.log.Errorf("failed to flush event log: %s", err)
	}
}

func (el *EventLogger) Close() error {
	if el == nil {
		return nil
	}

	el.Log(NewLoggedEvent("logClosed", "-", "EventLogger", "Log closed upon server shutdown."))

	el.mu.Lock()
	defer el.mu.Unlock()
	if err := el.out.Flush(); err != nil {
		return err
	}
	if el.closer != nil {
		return el.closer.Close()
	}
	return nil
}
