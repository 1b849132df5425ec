package activation

import "strings"

// Owner command names.
const (
	CommandActivation = "activation"
	CommandStatus     = "status"
)

// Command is a parsed owner command.
type Command struct {
	Name string // CommandActivation or CommandStatus
	Arg  string // lowercased first argument, if any
}

// Mode returns the requested activation mode, if the argument is valid.
func (c Command) Mode() (Mode, bool) {
	return ParseMode(c.Arg)
}

// ParseCommand recognizes "/activation <mode>" and "/status", optionally
// preceded by @mentions and with a "@botname" suffix on the command.
func ParseCommand(body string) (Command, bool) {
	fields := strings.Fields(body)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		fields = fields[1:]
	}
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	switch name {
	case CommandActivation, CommandStatus:
	default:
		return Command{}, false
	}

	cmd := Command{Name: name}
	if len(fields) > 1 {
		cmd.Arg = strings.ToLower(fields[1])
	}
	return cmd, true
}
