package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/menu"
	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/peterh/liner"
)

// DefaultConsoleUser is the user id console events are attributed to.
const DefaultConsoleUser = "console"

const consolePrompt = "> "

// LineReader reads one line of input per Prompt call. *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// ConsoleOption configures a ConsoleService.
type ConsoleOption func(*ConsoleService)

// WithConsoleUser sets the user id attached to console events.
func WithConsoleUser(userID string) ConsoleOption {
	return func(c *ConsoleService) {
		c.userID = userID
	}
}

// WithLineReader replaces the interactive line editor.
func WithLineReader(r LineReader) ConsoleOption {
	return func(c *ConsoleService) {
		c.in = r
	}
}

// WithOutput sets where replies are rendered.
func WithOutput(w io.Writer) ConsoleOption {
	return func(c *ConsoleService) {
		c.out = w
	}
}

// ConsoleService is a local chat transport on the terminal.
//
// Input lines are parsed by ParseLine; replies are printed with numbered buttons, and
// typing a number presses the matching button of the last shown menu.
type ConsoleService struct {
	userID string
	in     LineReader
	out    io.Writer
	events chan models.Event

	mu       sync.Mutex
	lastMenu *menu.Node

	stopOnce sync.Once
}

// NewConsoleService creates a ConsoleService.
func NewConsoleService(opts ...ConsoleOption) *ConsoleService {
	c := &ConsoleService{
		userID: DefaultConsoleUser,
		out:    os.Stdout,
		events: make(chan models.Event, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the channel of parsed input events.
func (c *ConsoleService) Events() <-chan models.Event {
	return c.events
}

// Start begins reading input lines in the background.
func (c *ConsoleService) Start(ctx context.Context) error {
	if c.in == nil {
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)
		c.in = l
	}
	go c.readLoop(ctx)
	slog.Info("ConsoleService started", "userID", c.userID)
	return nil
}

func (c *ConsoleService) readLoop(ctx context.Context) {
	defer close(c.events)
	for {
		line, err := c.in.Prompt(consolePrompt)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				slog.Error("ConsoleService read failed", "error", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}
		c.in.AppendHistory(line)

		c.mu.Lock()
		current := c.lastMenu
		c.mu.Unlock()

		select {
		case c.events <- ParseLine(c.userID, line, current):
		case <-ctx.Done():
			return
		}
	}
}

// Stop closes the line reader and restores the terminal.
func (c *ConsoleService) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		if c.in != nil {
			err = c.in.Close()
		}
	})
	return err
}

// SendResponse prints resp and remembers its menu for numbered input.
func (c *ConsoleService) SendResponse(_ context.Context, userID string, resp dialog.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID != c.userID {
		return fmt.Errorf("console has no user %q", userID)
	}
	c.lastMenu = resp.Menu
	_, err := io.WriteString(c.out, Render(resp))
	return err
}

// Render formats a reply as text followed by one line per button row.
func Render(resp dialog.Response) string {
	var b strings.Builder
	b.WriteString(resp.Text)
	b.WriteString("\n")
	if resp.Menu == nil {
		return b.String()
	}
	n := 0
	for _, row := range resp.Menu.Rows {
		labels := make([]string, 0, len(row))
		for _, btn := range row {
			n++
			labels = append(labels, fmt.Sprintf("[%d] %s", n, btn.Label))
		}
		b.WriteString(strings.Join(labels, "  "))
		b.WriteString("\n")
	}
	return b.String()
}

// ParseLine turns one console line into an event:
//
//	/name args     command
//	#action        button press on the current menu
//	#menu:action   button press on the named menu
//	<n>            the n-th button of the current menu
//
// Anything else is free text.
func ParseLine(userID, line string, current *menu.Node) models.Event {
	switch {
	case strings.HasPrefix(line, "/") && len(line) > 1:
		name, args, _ := strings.Cut(line[1:], " ")
		return models.NewCommand(userID, name, strings.TrimSpace(args))

	case strings.HasPrefix(line, "#") && len(line) > 1:
		ref := line[1:]
		ev := models.NewCallback(userID, ref)
		if menuID, action, ok := strings.Cut(ref, ":"); ok {
			ev.MenuID, ev.ActionID = menuID, action
		} else if current != nil {
			ev.MenuID = current.ID
		}
		return ev
	}

	if current != nil {
		if i, err := strconv.Atoi(line); err == nil {
			buttons := current.Buttons()
			if i >= 1 && i <= len(buttons) {
				ev := models.NewCallback(userID, buttons[i-1].Action)
				ev.MenuID = current.ID
				return ev
			}
		}
	}
	return models.NewText(userID, line)
}
