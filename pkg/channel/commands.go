package channel

import "strings"

// Command is a parsed slash command from the chat input line.
type Command struct {
	// Handled is false when the input starts with a slash but matches no
	// known command.
	Handled bool

	Name    string // canonical command name without the slash
	Channel string // target channel for join/leave/who
	Target  string // recipient for msg
	Text    string // message body for msg
}

// HelpText lists the recognised commands.
const HelpText = `/join <channel> [password]  join or create a channel
/leave <channel>            leave a channel
/channels                   list joined and available channels
/who [channel]              list members
/msg <name> <text>          send a private message
/help                       this text`

// ParseCommand interprets a line beginning with '/'. Lines not starting
// with a slash return (Command{}, false).
func ParseCommand(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{}, false
	}

	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])

	switch name {
	case "/join", "/j":
		cmd := Command{Handled: true, Name: "join"}
		if len(fields) > 1 {
			cmd.Channel = Normalize(fields[1])
		}
		if len(fields) > 2 {
			cmd.Text = fields[2] // optional password
		}
		return cmd, true

	case "/leave", "/part":
		cmd := Command{Handled: true, Name: "leave"}
		if len(fields) > 1 {
			cmd.Channel = Normalize(fields[1])
		}
		return cmd, true

	case "/channels", "/list":
		return Command{Handled: true, Name: "channels"}, true

	case "/who":
		cmd := Command{Handled: true, Name: "who"}
		if len(fields) > 1 {
			cmd.Channel = Normalize(fields[1])
		}
		return cmd, true

	case "/msg", "/m":
		cmd := Command{Handled: true, Name: "msg"}
		if len(fields) > 1 {
			cmd.Target = fields[1]
		}
		if len(fields) > 2 {
			cmd.Text = strings.Join(fields[2:], " ")
		}
		return cmd, true

	case "/help":
		return Command{Handled: true, Name: "help"}, true
	}

	return Command{Handled: false, Name: strings.TrimPrefix(name, "/")}, true
}
