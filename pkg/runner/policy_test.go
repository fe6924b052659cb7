package runner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustPolicy(t *testing.T, allows, denies []string) *Policy {
	t.Helper()
	p, err := NewPolicy(allows, denies)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return p
}

func checkBlocked(t *testing.T, err error, command string, line int) {
	t.Helper()
	var blocked *BlockedCommandError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want BlockedCommandError", err)
	}
	if blocked.Command != command {
		t.Fatalf("blocked command = %q, want %q", blocked.Command, command)
	}
	if blocked.Line != line {
		t.Fatalf("blocked line = %d, want %d", blocked.Line, line)
	}
}

func TestNewPolicyRejectsInvalidPattern(t *testing.T) {
	for _, lists := range [][2][]string{
		{{"["}, nil},
		{nil, {"[a-"}},
	} {
		_, err := NewPolicy(lists[0], lists[1])
		if err == nil {
			t.Fatalf("pattern %v accepted", lists)
		}
		if !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("error = %v, want ErrInvalidPattern", err)
		}
		var perr *PatternError
		if !errors.As(err, &perr) {
			t.Fatalf("error = %v, want PatternError", err)
		}
	}
}

func TestPolicyUnrestricted(t *testing.T) {
	p := mustPolicy(t, nil, nil)
	if p.Restricted() {
		t.Fatal("empty policy reports restricted")
	}
	if err := p.Check(strings.NewReader("rm -rf /\ncurl http://evil.example\n")); err != nil {
		t.Fatalf("unrestricted policy blocked: %v", err)
	}

	var nilPolicy *Policy
	if nilPolicy.Restricted() {
		t.Fatal("nil policy reports restricted")
	}
}

func TestPolicyDenylistBlocksToken(t *testing.T) {
	p := mustPolicy(t, nil, []string{"rm", "curl*"})

	err := p.Check(strings.NewReader("echo preparing\nrm -rf /tmp/scratch\n"))
	checkBlocked(t, err, "rm", 2)

	// Deny patterns match arguments too, not only the command word.
	err = p.Check(strings.NewReader("xargs rm\n"))
	checkBlocked(t, err, "rm", 1)

	if err := p.Check(strings.NewReader("echo hello\nls -la\n")); err != nil {
		t.Fatalf("benign script blocked: %v", err)
	}
}

func TestPolicyDenyMatchesBasename(t *testing.T) {
	p := mustPolicy(t, nil, []string{"rm"})

	err := p.Check(strings.NewReader("/bin/rm -rf /data\n"))
	checkBlocked(t, err, "/bin/rm", 1)
}

func TestPolicyAllowlistConstrainsCommandWord(t *testing.T) {
	p := mustPolicy(t, []string{"python*", "echo"}, nil)

	if err := p.Check(strings.NewReader("echo start\npython3 main.py\n")); err != nil {
		t.Fatalf("allowed script blocked: %v", err)
	}

	err := p.Check(strings.NewReader("echo ok\nwget http://example.com\n"))
	checkBlocked(t, err, "wget", 2)

	// Arguments are not held to the allowlist.
	if err := p.Check(strings.NewReader("python3 download.py http://example.com\n")); err != nil {
		t.Fatalf("argument held to allowlist: %v", err)
	}
}

func TestPolicyDenyWinsOverAllow(t *testing.T) {
	p := mustPolicy(t, []string{"*"}, []string{"curl"})

	err := p.Check(strings.NewReader("curl http://example.com\n"))
	checkBlocked(t, err, "curl", 1)
}

func TestPolicySkipsKeywordsAndAssignments(t *testing.T) {
	p := mustPolicy(t, []string{"echo", "true"}, nil)

	script := "FOO=bar echo hi\ntime echo timed\nif true\nthen echo inside\nfi\n"
	if err := p.Check(strings.NewReader(script)); err != nil {
		t.Fatalf("keyword/assignment prefixes not skipped: %v", err)
	}
}

func TestPolicyStripsComments(t *testing.T) {
	p := mustPolicy(t, nil, []string{"rm"})

	script := "#!/bin/sh\n# rm -rf / would be bad\necho safe # do not rm anything\n"
	if err := p.Check(strings.NewReader(script)); err != nil {
		t.Fatalf("commented text blocked: %v", err)
	}
}

func TestPolicyInspectsEverySegment(t *testing.T) {
	p := mustPolicy(t, nil, []string{"curl"})

	for _, line := range []string{
		"echo ok && curl http://example.com",
		"echo ok; curl http://example.com",
		"echo ok | curl http://example.com",
		"echo $(curl http://example.com)",
		"echo `curl http://example.com`",
	} {
		err := p.Check(strings.NewReader(line + "\n"))
		checkBlocked(t, err, "curl", 1)
	}
}

func TestPolicyCheckScript(t *testing.T) {
	p := mustPolicy(t, nil, []string{"nc"})

	path := filepath.Join(t.TempDir(), "run.sh")
	if err := os.WriteFile(path, []byte("echo one\necho two\nnc example.com 80\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	err := p.CheckScript(path)
	checkBlocked(t, err, "nc", 3)

	if err := p.CheckScript(filepath.Join(t.TempDir(), "absent.sh")); err == nil {
		t.Fatal("missing script accepted")
	}
}

func TestBlockedCommandErrorMessage(t *testing.T) {
	err := &BlockedCommandError{Command: "rm", Line: 4}
	if got, want := err.Error(), `command blocked by policy: "rm" (line 4)`; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
