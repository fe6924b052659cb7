package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy evaluates entry-script commands against allow and deny patterns.
//
// Patterns are doublestar globs. The deny side is matched against every
// token on a command line (names and arguments); the allow side constrains
// the command word of each pipeline segment. Resolution:
//   - no lists configured: unrestricted
//   - denylist only: matched tokens are blocked, everything else runs
//   - allowlist only: command words outside the list are blocked
//   - both: the command word must match the allowlist and no token may
//     match the denylist (the denylist wins when both match)
//
// This is a textual safety net over the script source, not a sandbox: it
// cannot see commands composed at runtime or fetched into the process.
type Policy struct {
	allows []string
	denies []string
}

// Errors returned by policy construction.
var (
	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid command pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// BlockedCommandError reports the first command the policy refused.
type BlockedCommandError struct {
	Command string
	Line    int
}

func (e *BlockedCommandError) Error() string {
	return fmt.Sprintf("command blocked by policy: %q (line %d)", e.Command, e.Line)
}

// NewPolicy compiles allow/deny pattern lists. Both lists empty yields an
// unrestricted policy.
func NewPolicy(allows, denies []string) (*Policy, error) {
	for _, raw := range allows {
		if !doublestar.ValidatePattern(raw) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
	}
	for _, raw := range denies {
		if !doublestar.ValidatePattern(raw) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
	}
	return &Policy{
		allows: append([]string(nil), allows...),
		denies: append([]string(nil), denies...),
	}, nil
}

// Restricted reports whether any pattern is configured.
func (p *Policy) Restricted() bool {
	return p != nil && len(p.allows)+len(p.denies) > 0
}

// CheckScript scans the script file and returns a BlockedCommandError for
// the first refused command, or nil if every line passes.
func (p *Policy) CheckScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open entry script: %w", err)
	}
	defer func() { _ = f.Close() }()
	return p.Check(f)
}

// Check scans shell source from r, one line at a time.
func (p *Policy) Check(r io.Reader) error {
	if !p.Restricted() {
		return nil
	}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if err := p.checkLine(scanner.Text(), line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan entry script: %w", err)
	}
	return nil
}

func (p *Policy) checkLine(raw string, line int) error {
	code := stripComment(raw)
	for _, segment := range splitSegments(code) {
		tokens := strings.Fields(segment)
		cmd := commandWord(tokens)

		if len(p.denies) > 0 {
			for _, tok := range tokens {
				if p.matches(p.denies, tok) {
					return &BlockedCommandError{Command: tok, Line: line}
				}
			}
		}
		if cmd != "" && len(p.allows) > 0 && !p.matches(p.allows, cmd) {
			return &BlockedCommandError{Command: cmd, Line: line}
		}
	}
	return nil
}

// matches tries each pattern against the token and its base name, so "rm"
// also catches "/bin/rm".
func (p *Policy) matches(patterns []string, token string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, token); err == nil && ok {
			return true
		}
		if base := filepath.Base(token); base != token {
			if ok, err := doublestar.Match(pat, base); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// shellKeywords are control words that precede the real command on a line.
var shellKeywords = map[string]bool{
	"if": true, "then": true, "else": true, "elif": true, "fi": true,
	"for": true, "while": true, "until": true, "do": true, "done": true,
	"case": true, "esac": true, "in": true, "function": true,
	"time": true, "!": true, "{": true, "}": true, "[[": true, "]]": true,
}

// commandWord picks the token that names the invoked command: leading shell
// keywords and VAR=value assignment prefixes are skipped.
func commandWord(tokens []string) string {
	for _, tok := range tokens {
		if shellKeywords[tok] {
			continue
		}
		if isAssignment(tok) {
			continue
		}
		return tok
	}
	return ""
}

func isAssignment(tok string) bool {
	i := strings.IndexByte(tok, '=')
	if i <= 0 {
		return false
	}
	for _, r := range tok[:i] {
		if r != '_' && !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// stripComment drops everything from the first unquoted-looking '#'.
// Shebang lines are dropped entirely.
func stripComment(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		return line[:i]
	}
	return line
}

// segmentSeparators split a line into pipeline segments so each segment's
// command word can be inspected. Longest operators first: the replacer
// prefers earlier patterns at each position.
var segmentSeparators = strings.NewReplacer(
	"&&", "\x00",
	"||", "\x00",
	"$(", "\x00",
	";", "\x00",
	"|", "\x00",
	"&", "\x00",
	"`", "\x00",
	"(", "\x00",
	")", "\x00",
)

func splitSegments(code string) []string {
	return strings.Split(segmentSeparators.Replace(code), "\x00")
}
