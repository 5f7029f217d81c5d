package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// commandAliases maps short forms to canonical command names.
var commandAliases = map[string]string{
	"q":    "quit",
	"o":    "open",
	"c":    "close",
	"r":    "refresh",
	"f":    "filter",
	"more": "older",
}

// Canonical resolves aliases to the command's full name.
func (c Command) Canonical() string {
	if name, ok := commandAliases[c.Name]; ok {
		return name
	}
	return c.Name
}
