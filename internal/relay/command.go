package relay

import "strings"

// Command is a remote command held as an argv vector until the moment it is
// serialized for the target's shell. Building commands from discrete
// arguments keeps resource names, namespaces and image references from ever
// being interpreted as shell syntax.
type Command struct {
	Argv []string
}

// NewCommand builds a Command from a program name and its arguments.
func NewCommand(name string, args ...string) Command {
	return Command{Argv: append([]string{name}, args...)}
}

// String renders the command as a single shell line with every argument
// single-quoted.
func (c Command) String() string {
	quoted := make([]string, len(c.Argv))
	for i, arg := range c.Argv {
		quoted[i] = quote(arg)
	}
	return strings.Join(quoted, " ")
}

// quote wraps s in single quotes, closing and reopening around any embedded
// single quote. POSIX shells perform no expansion inside single quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
