// Package menu holds the immutable menu graph and the catalog it is built from.
//
// A Graph is constructed once at startup from a validated Config and is safe for
// concurrent reads. It has no mutation operations.
package menu

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnknownAction means the action id is not an edge of the current node.
var ErrUnknownAction = errors.New("unknown action")

// Target is the result of resolving an action: exactly one of Node or Action is set.
type Target struct {
	Node   *Node
	Action *Action
	// Home is the node that holds the button; set for terminal actions.
	Home *Node
}

// IsNavigation reports whether the target is another menu node.
func (t Target) IsNavigation() bool {
	return t.Node != nil
}

// Graph is the read-only menu graph plus the catalog texts that go with it.
type Graph struct {
	root     *Node
	nodes    map[string]*Node
	actions  map[string]*Action
	commands map[string]Command
	messages map[string]string
}

// NewGraph validates cfg and builds a Graph from it.
func NewGraph(cfg *Config) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		slog.Error("Graph NewGraph validation failed", "error", err)
		return nil, err
	}

	g := &Graph{
		nodes:    make(map[string]*Node, len(cfg.Nodes)),
		actions:  make(map[string]*Action, len(cfg.Actions)),
		commands: make(map[string]Command, len(cfg.Commands)),
		messages: make(map[string]string, len(cfg.Messages)),
	}
	for i := range cfg.Nodes {
		n := cfg.Nodes[i]
		rows := make([][]Button, len(n.Rows))
		for r, row := range n.Rows {
			rows[r] = append([]Button(nil), row...)
		}
		n.Rows = rows
		g.nodes[n.ID] = &n
	}
	for id, a := range cfg.Actions {
		a.ID = id
		g.actions[id] = &a
	}
	for name, c := range cfg.Commands {
		g.commands[strings.ToLower(name)] = c
	}
	for k, v := range cfg.Messages {
		g.messages[k] = v
	}
	g.root = g.nodes[cfg.Root]

	slog.Debug("Graph built", "nodes", len(g.nodes), "actions", len(g.actions), "root", cfg.Root)
	return g, nil
}

// Root returns the root node.
func (g *Graph) Root() *Node {
	return g.root
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Action returns the terminal action with the given id.
func (g *Graph) Action(id string) (*Action, bool) {
	a, ok := g.actions[id]
	return a, ok
}

// Command returns the catalog reply for a slash command name (without the slash).
func (g *Graph) Command(name string) (Command, bool) {
	c, ok := g.commands[strings.ToLower(name)]
	return c, ok
}

// Resolve resolves actionID against the edges of the node currentID.
// It fails with ErrUnknownAction when actionID is not a button of that node.
func (g *Graph) Resolve(currentID, actionID string) (Target, error) {
	current, ok := g.nodes[currentID]
	if !ok {
		return Target{}, fmt.Errorf("node %q: %w", currentID, ErrUnknownAction)
	}
	if !current.HasEdge(actionID) {
		return Target{}, fmt.Errorf("action %q in node %q: %w", actionID, currentID, ErrUnknownAction)
	}
	if n, ok := g.nodes[actionID]; ok {
		return Target{Node: n}, nil
	}
	// Validate guarantees every edge names a node or an action.
	return Target{Action: g.actions[actionID], Home: current}, nil
}

// After returns the node to display once action has run from home.
func (g *Graph) After(action *Action, home *Node) *Node {
	if action.Menu != "" {
		if n, ok := g.nodes[action.Menu]; ok {
			return n
		}
	}
	if home != nil {
		return home
	}
	return g.root
}

// Message returns the catalog text for key with {name} placeholders replaced.
// vars are name/value pairs.
func (g *Graph) Message(key string, vars ...string) string {
	return Format(g.messages[key], vars...)
}

// Format replaces {name} placeholders in text. vars are name/value pairs.
func Format(text string, vars ...string) string {
	if len(vars) < 2 {
		return text
	}
	pairs := make([]string, 0, len(vars))
	for i := 0; i+1 < len(vars); i += 2 {
		pairs = append(pairs, "{"+vars[i]+"}", vars[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
