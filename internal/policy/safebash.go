package policy

import (
	"regexp"
	"strings"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// shellMetachars and controlChars mirror the teacher's executable-safety
// detectors (internal/exec/safety.go IsSafeExecutableValue): any of these
// in a bash command forces it to the arbitrary (level 7) tier, except a
// single pipe, which IsSafeBashCommand splits on before checking.
var (
	shellMetachars = regexp.MustCompile("[;&|`$<>(){}]")
	controlChars   = regexp.MustCompile(`[\r\n]`)
)

// safeVerbs is the allowlist of read-only, side-effect-free commands the
// level-5 (shellcheck-safe) tier admits (spec §4.4).
var safeVerbs = map[string]bool{
	"ls": true, "cat": true, "echo": true, "pwd": true, "grep": true,
	"find": true, "head": true, "tail": true, "wc": true, "sort": true,
	"uniq": true, "diff": true, "file": true, "stat": true, "date": true,
	"whoami": true, "env": true, "printenv": true, "basename": true,
	"dirname": true, "which": true, "true": true, "false": true,
}

// ClassifyBash selects sensitivity level 5 (shellcheck-safe subset) or 7
// (arbitrary) for a bash tool invocation (spec §4.4: "Bash at level 5 vs 7
// is selected by a static safe-command matcher").
func ClassifyBash(command string) models.Sensitivity {
	if IsSafeBashCommand(command) {
		return models.SensitivityShellSafe
	}
	return models.SensitivityShellArbitrary
}

// IsSafeBashCommand reports whether command contains no shell
// metacharacters or control characters and every pipeline segment's verb
// is on the allowlist. Pipes themselves (the only metachar a safe pipeline
// needs) are permitted explicitly; every other metacharacter disqualifies
// the command.
func IsSafeBashCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false
	}
	if controlChars.MatchString(trimmed) {
		return false
	}
	if strings.ContainsAny(trimmed, "\x00") {
		return false
	}

	segments := strings.Split(trimmed, "|")
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return false
		}
		// Disallow everything but the pipe itself within each segment.
		if shellMetachars.MatchString(seg) {
			return false
		}
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			return false
		}
		verb := fields[0]
		if strings.HasPrefix(verb, "-") {
			return false // option injection where a verb is expected
		}
		if !safeVerbs[verb] {
			return false
		}
	}
	return true
}
