package menu

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BTreeMap/LifeStation/internal/content"
	"github.com/BTreeMap/LifeStation/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_menu.yaml
var defaultCatalog []byte

// ErrInvalidConfig is returned for any malformed menu catalog. It is startup-fatal.
var ErrInvalidConfig = errors.New("invalid menu config")

// ActionType selects what a terminal action does.
type ActionType string

const (
	ActionContent       ActionType = "content"        // one pick from Pool, prefixed by Title
	ActionSample        ActionType = "sample"         // Count distinct picks from Pool, joined by Separator
	ActionStatic        ActionType = "static"         // fixed Text
	ActionRandomNumber  ActionType = "random_number"  // integer in [Min, Max] formatted into Text
	ActionCapture       ActionType = "capture"        // sets the awaiting kind and replies with Text
	ActionTimerStart    ActionType = "timer_start"    // starts the focus timer
	ActionTimerStop     ActionType = "timer_stop"     // stops the focus timer
	ActionReactionStart ActionType = "reaction_start" // starts the reaction-time test
	ActionReactionStop  ActionType = "reaction_stop"  // stops the reaction-time test
	ActionShowTarget    ActionType = "show_target"    // reads the stored target
	ActionMoodHistory   ActionType = "mood_history"   // lists recent mood entries
)

// Message keys the router relies on. Every catalog must define all of them.
const (
	MsgFallback          = "fallback"
	MsgUnknownCommand    = "unknown_command"
	MsgIdleText          = "idle_text"
	MsgTargetPrompt      = "target_prompt"
	MsgTargetSaved       = "target_saved"
	MsgMoodSaved         = "mood_saved"
	MsgFocusAck          = "focus_ack"
	MsgPersistenceError  = "persistence_error"
	MsgTimerStarted      = "timer_started"
	MsgTimerStopped      = "timer_stopped"
	MsgTimerNotStarted   = "timer_not_started"
	MsgReactionResult    = "reaction_result"
	MsgReactionExpired   = "reaction_expired"
	MsgTargetShow        = "target_show"
	MsgTargetAbsent      = "target_absent"
	MsgMoodHistoryHeader = "mood_history_header"
	MsgMoodHistoryLine   = "mood_history_line"
	MsgMoodHistoryEmpty  = "mood_history_empty"
	MsgReadError         = "read_error"
	MsgCancelled         = "cancelled"
	MsgNothingToCancel   = "nothing_to_cancel"
	MsgRateLimited       = "rate_limited"
)

// RequiredMessages lists the message keys validated at load time.
var RequiredMessages = []string{
	MsgFallback, MsgUnknownCommand, MsgIdleText, MsgTargetPrompt, MsgTargetSaved, MsgMoodSaved, MsgFocusAck,
	MsgPersistenceError, MsgTimerStarted, MsgTimerStopped, MsgTimerNotStarted, MsgReactionResult,
	MsgReactionExpired, MsgTargetShow, MsgTargetAbsent, MsgMoodHistoryHeader, MsgMoodHistoryLine,
	MsgMoodHistoryEmpty, MsgReadError, MsgCancelled, MsgNothingToCancel, MsgRateLimited,
}

// Button is one (display label, action id) pair of a node.
type Button struct {
	Label  string `yaml:"label" json:"label"`
	Action string `yaml:"action" json:"action"`
}

// Node is a menu node. Rows preserve the display layout.
type Node struct {
	ID    string     `yaml:"id" json:"id"`
	Label string     `yaml:"label" json:"label"`
	Rows  [][]Button `yaml:"rows" json:"rows"`
}

// Buttons returns the node's buttons in display order.
func (n *Node) Buttons() []Button {
	var out []Button
	for _, row := range n.Rows {
		out = append(out, row...)
	}
	return out
}

// HasEdge reports whether actionID is a button of n.
func (n *Node) HasEdge(actionID string) bool {
	for _, row := range n.Rows {
		for _, b := range row {
			if b.Action == actionID {
				return true
			}
		}
	}
	return false
}

// Action is a terminal action definition.
type Action struct {
	ID        string              `yaml:"-" json:"id"`
	Type      ActionType          `yaml:"type" json:"type"`
	Pool      string              `yaml:"pool,omitempty" json:"pool,omitempty"`
	Count     int                 `yaml:"count,omitempty" json:"count,omitempty"`
	Separator string              `yaml:"separator,omitempty" json:"separator,omitempty"`
	Title     string              `yaml:"title,omitempty" json:"title,omitempty"`
	Text      string              `yaml:"text,omitempty" json:"text,omitempty"`
	Min       int                 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       int                 `yaml:"max,omitempty" json:"max,omitempty"`
	Capture   models.AwaitingKind `yaml:"capture,omitempty" json:"capture,omitempty"`
	// Menu is the node displayed after the action. Empty means the node holding the button.
	Menu string `yaml:"menu,omitempty" json:"menu,omitempty"`
}

// Command is the fixed reply of a slash command such as /start.
type Command struct {
	Text string `yaml:"text"`
	Menu string `yaml:"menu,omitempty"`
}

// Config is the whole catalog: graph, terminal actions, content pools and reply texts.
type Config struct {
	Root     string              `yaml:"root"`
	Nodes    []Node              `yaml:"nodes"`
	Actions  map[string]Action   `yaml:"actions"`
	Pools    map[string][]string `yaml:"pools"`
	Commands map[string]Command  `yaml:"commands"`
	Messages map[string]string   `yaml:"messages"`
}

// ParseConfig decodes a YAML catalog and validates it. Unknown fields are rejected.
func ParseConfig(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog: %v", ErrInvalidConfig, err)
	}
	for id, a := range cfg.Actions {
		a.ID = id
		cfg.Actions[id] = a
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and validates a YAML catalog file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu config: %w", err)
	}
	return ParseConfig(data)
}

// DefaultConfig returns the embedded catalog.
func DefaultConfig() (*Config, error) {
	return ParseConfig(defaultCatalog)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the catalog's structural invariants.
func (c *Config) Validate() error {
	if c.Root == "" {
		return invalid("root is required")
	}

	nodes := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" {
			return invalid("node without id")
		}
		if nodes[n.ID] {
			return invalid("duplicate node %q", n.ID)
		}
		if _, clash := c.Actions[n.ID]; clash {
			return invalid("id %q is both a node and an action", n.ID)
		}
		nodes[n.ID] = true
	}
	if !nodes[c.Root] {
		return invalid("root node %q not defined", c.Root)
	}

	for _, n := range c.Nodes {
		for _, b := range n.Buttons() {
			if b.Action == "" {
				return invalid("node %q has a button without action", n.ID)
			}
			if len(b.Action) > models.MaxActionIDLength {
				return invalid("action id %q too long", b.Action)
			}
			if nodes[b.Action] {
				continue
			}
			if _, ok := c.Actions[b.Action]; !ok {
				return invalid("node %q: button %q targets unknown action %q", n.ID, b.Label, b.Action)
			}
		}
	}

	for id, a := range c.Actions {
		if a.Menu != "" && !nodes[a.Menu] {
			return invalid("action %q: unknown menu %q", id, a.Menu)
		}
		if err := c.validateAction(id, a); err != nil {
			return err
		}
	}

	for name, cmd := range c.Commands {
		if cmd.Menu != "" && !nodes[cmd.Menu] {
			return invalid("command %q: unknown menu %q", name, cmd.Menu)
		}
	}

	var missing []string
	for _, key := range RequiredMessages {
		if strings.TrimSpace(c.Messages[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return invalid("missing messages: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) validateAction(id string, a Action) error {
	switch a.Type {
	case ActionContent, ActionSample:
		items, ok := c.Pools[a.Pool]
		if !ok {
			return invalid("action %q: unknown pool %q", id, a.Pool)
		}
		if len(items) == 0 {
			return fmt.Errorf("action %q pool %q: %w", id, a.Pool, content.ErrEmptyPool)
		}
		if a.Type == ActionSample && (a.Count < 1 || a.Count > len(items)) {
			return invalid("action %q: count %d out of range for pool of %d", id, a.Count, len(items))
		}
	case ActionStatic:
		if a.Text == "" {
			return invalid("action %q: static text is empty", id)
		}
	case ActionRandomNumber:
		if a.Min > a.Max {
			return invalid("action %q: min %d > max %d", id, a.Min, a.Max)
		}
	case ActionCapture:
		if !models.IsValidAwaitingKind(a.Capture) {
			return invalid("action %q: invalid capture kind %q", id, a.Capture)
		}
	case ActionTimerStart, ActionTimerStop, ActionReactionStart, ActionReactionStop,
		ActionShowTarget, ActionMoodHistory:
	default:
		return invalid("action %q: unknown type %q", id, a.Type)
	}
	return nil
}

// Selector builds the content selector over the catalog's pools.
func (c *Config) Selector() (*content.Selector, error) {
	return content.NewSelector(c.Pools)
}
