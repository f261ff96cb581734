// Command jsonlog is an audit log plugin appending room joins and leaves
// to a file as JSON lines.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/meszmate/mucd/pkg/plugin"
)

const pluginName = "jsonlog"

var appLogger = hclog.New(&hclog.LoggerOptions{
	Name:       pluginName,
	Level:      hclog.Info,
	Output:     os.Stderr,
	JSONFormat: true,
})

type record struct {
	Time  string `json:"time"`
	Event string `json:"event"`
	Room  string `json:"room"`
	JID   string `json:"jid,omitempty"`
	Nick  string `json:"nick"`
}

// JSONLogger writes one JSON object per event
type JSONLogger struct {
	mu      sync.Mutex
	out     io.Writer
	file    *os.File
	hideJID bool
}

func (l *JSONLogger) Metadata() (plugin.Metadata, error) {
	return plugin.Metadata{
		Name:        pluginName,
		Version:     "1.0.0",
		Description: "Room joins and leaves as JSON lines",
	}, nil
}

// Init opens the file named by the "path" option, stdout when unset.
// "hide_jid" set to "true" leaves real JIDs out of the records.
func (l *JSONLogger) Init(options map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hideJID = options["hide_jid"] == "true"

	path := options["path"]
	if path == "" {
		l.out = os.Stdout
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	l.file = f
	l.out = f
	appLogger.Info("writing audit log", "path", path)
	return nil
}

func (l *JSONLogger) HandleEvent(e plugin.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return fmt.Errorf("%s: not initialized", pluginName)
	}
	rec := record{
		Time:  e.At.UTC().Format(time.RFC3339),
		Event: e.Kind,
		Room:  e.Room,
		Nick:  e.Nick,
	}
	if !l.hideJID {
		rec.JID = e.JID
	}
	return json.NewEncoder(l.out).Encode(rec)
}

func (l *JSONLogger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out = nil
	return err
}

func main() {
	plugin.Serve(&JSONLogger{})
}
