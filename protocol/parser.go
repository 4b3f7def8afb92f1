package protocol

import (
	"strings"
	"unicode"
)

// Command is one parsed control line. Action is upper-cased, so command
// matching is case-insensitive. Params holds the whitespace-separated
// tokens after the action; Arg holds the raw remainder with leading
// whitespace removed, for commands whose argument may contain spaces.
type Command struct {
	Action string
	Params []string
	Arg    string
}

// Arity returns the number of parameter tokens.
func (c Command) Arity() int {
	return len(c.Params)
}

// Parse splits line on runs of whitespace. A line with no tokens yields a
// Command with an empty Action and no parameters. No quoting or escaping is
// interpreted at this layer.
//
// Parameters:
//   - line: A command line with its terminator already stripped
//
// Returns:
//   - The parsed Command
func Parse(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Params: []string{}}
	}

	rest := strings.TrimLeftFunc(line, unicode.IsSpace)
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	} else {
		rest = ""
	}

	return Command{
		Action: strings.ToUpper(fields[0]),
		Params: fields[1:],
		Arg:    rest,
	}
}
