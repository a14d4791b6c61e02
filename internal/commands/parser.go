package commands

import (
	"strings"
)

// ParseResult splits a reply into its directives and residual prose.
type ParseResult struct {
	Commands []Command
	// Residual is the prose left after removing directive lines.
	Residual string
	// CommandsOnly is set when directives were found and no prose remains.
	CommandsOnly bool
}

// Parse scans the extracted reply text line by line. A line is a directive
// only when it is a slash, a known directive name, and arguments consistent
// with that directive's definition; everything else is prose and stays in
// the residual body untouched.
func Parse(text string, vocab Vocabulary) ParseResult {
	if len(vocab) == 0 {
		vocab = DefaultVocabulary()
	}
	var result ParseResult
	var prose []string
	for i, line := range strings.Split(text, "\n") {
		if cmd, ok := parseLine(line, i, vocab); ok {
			result.Commands = append(result.Commands, cmd)
			continue
		}
		prose = append(prose, line)
	}
	result.Residual = strings.TrimSpace(strings.Join(prose, "\n"))
	result.CommandsOnly = len(result.Commands) > 0 && result.Residual == ""
	return result
}

func parseLine(line string, pos int, vocab Vocabulary) (Command, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}
	name, arg, _ := strings.Cut(trimmed[1:], " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)
	def, ok := vocab[name]
	if !ok {
		return Command{}, false
	}
	if def.needsArg && arg == "" {
		return Command{}, false
	}
	if !def.needsArg && arg != "" {
		return Command{}, false
	}
	return Command{Kind: def.kind, Arg: arg, Line: pos}, true
}
