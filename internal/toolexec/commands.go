package toolexec

import "strings"

// shellMetachars are rejected in a command line unless the command's first
// token appears in metacharWhitelist.
var shellMetachars = []string{";", "|", "&", ">", "<", "`", "$(", ")"}

// containsMetachar reports whether cmdLine contains any of shellMetachars.
func containsMetachar(cmdLine string) bool {
	for _, m := range shellMetachars {
		if strings.Contains(cmdLine, m) {
			return true
		}
	}
	return false
}

func contains(set []string, tok string) bool {
	for _, s := range set {
		if s == tok {
			return true
		}
	}
	return false
}

// checkCommand applies the safe/denied command discipline: the command is
// split on whitespace with no shell interpretation, the first token must be
// in safeCommands, no token may be in deniedCommands, and metacharacters
// are rejected unless the first token is explicitly whitelisted for them.
func checkCommand(cmdLine string, safeCommands, deniedCommands, metacharWhitelist []string) (tokens []string, err string) {
	tokens = strings.Fields(cmdLine)
	if len(tokens) == 0 {
		return nil, "command not permitted"
	}
	first := tokens[0]
	if !contains(safeCommands, first) {
		return nil, "command not permitted"
	}
	for _, t := range tokens {
		if contains(deniedCommands, t) {
			return nil, "command not permitted"
		}
	}
	if containsMetachar(cmdLine) && !contains(metacharWhitelist, first) {
		return nil, "command not permitted"
	}
	return tokens, ""
}
