// Package validator statically screens submitted experiment scripts before
// any resource is committed. It is purely functional: given script text it
// returns accept or reject-with-diagnostics, and never creates state.
//
// The check is an allow-list membership test over parsed import identifiers,
// not runtime interception; the script executes in an already-isolated
// container, so static screening is the right layer for this.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

var (
	importRe     = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`)
)

// dynamicImportTokens defeat the static allow-list and are always rejected.
var dynamicImportTokens = []string{"__import__", "importlib"}

// privilegedTokens are names from the hub's configuration surface that a user
// script has no business referencing.
var privilegedTokens = []string{
	"BIOREACTOR_NODE_HOST",
	"BIOREACTOR_NODE_PORT",
	"SSH_KEY_PATH",
	"NATS_URL",
	"HUB_DATA_DIR",
}

// Validator screens scripts against an explicit import allow-list.
type Validator struct {
	allowed map[string]struct{}
}

// New creates a validator admitting only the given top-level module names.
func New(allowedImports []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedImports))
	for _, name := range allowedImports {
		allowed[strings.TrimSpace(name)] = struct{}{}
	}
	return &Validator{allowed: allowed}
}

// Validate returns nil if the script is admissible, or a
// *experiment.ValidationError listing every finding. It has no side effects.
func (v *Validator) Validate(script string) error {
	var diags []string

	if strings.TrimSpace(script) == "" {
		diags = append(diags, "script is empty")
	}
	if !utf8.ValidString(script) {
		diags = append(diags, "script is not valid UTF-8")
	}
	if strings.ContainsRune(script, 0) {
		diags = append(diags, "script contains NUL bytes")
	}
	if len(diags) > 0 {
		return &experiment.ValidationError{Diagnostics: diags}
	}

	for i, line := range strings.Split(script, "\n") {
		lineNo := i + 1
		code := stripComment(line)

		for _, tok := range dynamicImportTokens {
			if strings.Contains(code, tok) {
				diags = append(diags, fmt.Sprintf("line %d: dynamic import via %q is not allowed", lineNo, tok))
			}
		}
		for _, tok := range privilegedTokens {
			if strings.Contains(code, tok) {
				diags = append(diags, fmt.Sprintf("line %d: reference to privileged configuration %q", lineNo, tok))
			}
		}

		for _, mod := range parseImports(code) {
			if _, ok := v.allowed[mod]; !ok {
				diags = append(diags, fmt.Sprintf("line %d: import of %q is not in the allow-list", lineNo, mod))
			}
		}
	}

	if len(diags) > 0 {
		return &experiment.ValidationError{Diagnostics: diags}
	}
	return nil
}

// parseImports extracts the top-level module names imported by one line of
// Python source. Handles "import a, b as c" and "from a.b import c".
func parseImports(code string) []string {
	if m := fromImportRe.FindStringSubmatch(code); m != nil {
		return []string{topLevel(m[1])}
	}
	m := importRe.FindStringSubmatch(code)
	if m == nil {
		return nil
	}
	var mods []string
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// Drop any "as alias" suffix.
		if fields := strings.Fields(part); len(fields) > 0 {
			mods = append(mods, topLevel(fields[0]))
		}
	}
	return mods
}

// topLevel reduces a dotted module path to its first segment, which is the
// unit the allow-list is defined over.
func topLevel(mod string) string {
	if idx := strings.IndexByte(mod, '.'); idx >= 0 {
		return mod[:idx]
	}
	return mod
}

// stripComment removes a trailing "#" comment, ignoring hashes inside string
// literals. Good enough for import screening; strings spanning lines are not
// import statements.
func stripComment(line string) string {
	inSingle, inDouble := false, false
	for i, r := range line {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return line[:i]
			}
		}
	}
	return line
}
