// Package blacklist decides which port identifiers may never be opened.
//
// The rule file holds one rule per line. Blank lines and lines starting with
// '#' are ignored. A line containing any of the characters []{}()*+?|^$\.
// is a regular expression that must match the whole identifier; any other
// line matches the identifier exactly.
package blacklist

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/config"
)

// RuleKind tells how a rule is matched.
type RuleKind int

const (
	Exact RuleKind = iota
	Regex
)

func (k RuleKind) String() string {
	if k == Regex {
		return "regex"
	}
	return "exact"
}

// metaChars are the characters that turn a line into a pattern.
const metaChars = `[]{}()*+?|^$\.`

// Rule is one compiled deny rule.
type Rule struct {
	Kind    RuleKind
	Pattern string
	re      *regexp.Regexp
}

// ParseRule classifies and compiles a single rule line.
func ParseRule(line string) (Rule, error) {
	pattern := strings.TrimSpace(line)
	if !strings.ContainsAny(pattern, metaChars) {
		return Rule{Kind: Exact, Pattern: pattern}, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: Regex, Pattern: pattern, re: re}, nil
}

// Match reports whether the rule denies id.
func (r Rule) Match(id string) bool {
	if r.Kind == Regex {
		return r.re.MatchString(id)
	}
	return r.Pattern == id
}

func (r Rule) String() string {
	return r.Kind.String() + ":" + r.Pattern
}

// Parse reads rules from r. The first malformed pattern aborts parsing.
func Parse(r io.Reader) ([]Rule, error) {
	var rules []Rule
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid pattern %q: %w", lineNo, line, err)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Manager evaluates identifiers against the current rule set. The set is
// replaced as a whole on Reload.
type Manager struct {
	path  string
	rules atomic.Pointer[[]Rule]
	log   zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for reload reports.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithRules seeds the manager with rules instead of reading a file.
func WithRules(rules ...Rule) Option {
	return func(m *Manager) {
		m.rules.Store(&rules)
	}
}

// New loads the rule file at path. A missing file means no rules; a file
// with a mode other than 0600 or a malformed pattern is an error.
func New(path string, opts ...Option) (*Manager, error) {
	m := &Manager{path: path, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	if m.rules.Load() != nil {
		return m, nil
	}

	rules, err := m.load()
	if err != nil {
		return nil, err
	}
	m.rules.Store(&rules)
	return m, nil
}

func (m *Manager) load() ([]Rule, error) {
	if m.path == "" {
		return nil, nil
	}
	exists, err := config.CheckPermissions(m.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigParse, m.path, err)
	}
	rules, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigParse, m.path, err)
	}
	return rules, nil
}

// Path returns the rule file path.
func (m *Manager) Path() string {
	return m.path
}

// Reload re-reads the rule file and swaps the rule set. On failure the
// previous rules stay in effect.
func (m *Manager) Reload() error {
	rules, err := m.load()
	if err != nil {
		m.log.Error().Err(err).Str("path", m.path).Msg("blacklist reload failed, keeping previous rules")
		return err
	}
	m.rules.Store(&rules)
	m.log.Info().Str("path", m.path).Int("rules", len(rules)).Msg("blacklist reloaded")
	return nil
}

// Rules returns a copy of the active rules.
func (m *Manager) Rules() []Rule {
	rules := *m.rules.Load()
	return append([]Rule(nil), rules...)
}

// Match returns the first rule that denies id.
func (m *Manager) Match(id string) (Rule, bool) {
	for _, r := range *m.rules.Load() {
		if r.Match(id) {
			return r, true
		}
	}
	return Rule{}, false
}

// IsBlocked reports whether any rule denies id.
func (m *Manager) IsBlocked(id string) bool {
	_, blocked := m.Match(id)
	return blocked
}

// Check returns a BlacklistedPort error when id is denied.
func (m *Manager) Check(id string) error {
	if rule, blocked := m.Match(id); blocked {
		return apperr.New(apperr.KindBlacklistedPort, id, "port is blacklisted by rule %s", rule)
	}
	return nil
}
