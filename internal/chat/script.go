// internal/chat/script.go
package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrSyntax is returned for malformed chat scripts
var ErrSyntax = errors.New("chat script syntax error")

const (
	directiveTimeout = "TIMEOUT"
	directiveAbort   = "ABORT"
)

// Step is one expect/send exchange
type Step struct {
	Expect string
	Send   string
	// NoTerminator is set when the send token ended with \c
	NoTerminator bool
	// Timeout in effect for the expect; zero means the executor default
	Timeout time.Duration
	// HasSend is false for a trailing expect with no send token
	HasSend bool
}

// Script is a parsed chat script
type Script struct {
	Aborts []string
	Steps  []Step
	// abortsAt[i] is how many abort patterns are registered when step i runs
	abortsAt []int
}

// ActiveAborts returns the abort patterns registered before step i
func (s *Script) ActiveAborts(i int) []string {
	if i < 0 || i >= len(s.abortsAt) {
		return s.Aborts
	}
	return s.Aborts[:s.abortsAt[i]]
}

// String renders the script in a form that parses back to the same steps
func (s *Script) String() string {
	var b strings.Builder
	var timeout time.Duration
	aborts := 0
	for i, step := range s.Steps {
		for ; aborts < s.abortsAt[i]; aborts++ {
			fmt.Fprintf(&b, "%s %s\n", directiveAbort, quote(s.Aborts[aborts], false))
		}
		if step.Timeout != timeout {
			timeout = step.Timeout
			fmt.Fprintf(&b, "%s %d\n", directiveTimeout, int(timeout/time.Second))
		}
		b.WriteString(quote(step.Expect, false))
		if step.HasSend {
			b.WriteByte(' ')
			b.WriteString(quote(step.Send, step.NoTerminator))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func quote(s string, noTerm bool) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}
	if noTerm {
		b.WriteString(`\c`)
	}
	b.WriteByte('"')
	return b.String()
}

type token struct {
	text   string
	noTerm bool
	quoted bool
}

// Parse tokenizes chat script text. Tokens are separated by whitespace and
// may be double quoted. TIMEOUT and ABORT take one argument; everything else
// alternates expect and send.
func Parse(text string) (*Script, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	script := &Script{}
	var timeout time.Duration
	var pending *Step

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if pending == nil && !tok.quoted {
			switch strings.ToUpper(tok.text) {
			case directiveTimeout:
				if i+1 >= len(tokens) {
					return nil, fmt.Errorf("%w: %s without a value", ErrSyntax, directiveTimeout)
				}
				secs, err := strconv.Atoi(tokens[i+1].text)
				if err != nil || secs <= 0 {
					return nil, fmt.Errorf("%w: invalid %s value %q", ErrSyntax, directiveTimeout, tokens[i+1].text)
				}
				timeout = time.Duration(secs) * time.Second
				i++
				continue
			case directiveAbort:
				if i+1 >= len(tokens) || tokens[i+1].text == "" {
					return nil, fmt.Errorf("%w: %s without a pattern", ErrSyntax, directiveAbort)
				}
				script.Aborts = append(script.Aborts, tokens[i+1].text)
				i++
				continue
			}
		}

		if pending == nil {
			if tok.noTerm {
				return nil, fmt.Errorf("%w: \\c in expect %q", ErrSyntax, tok.text)
			}
			pending = &Step{Expect: tok.text, Timeout: timeout}
			continue
		}

		pending.Send = tok.text
		pending.NoTerminator = tok.noTerm
		pending.HasSend = true
		script.Steps = append(script.Steps, *pending)
		script.abortsAt = append(script.abortsAt, len(script.Aborts))
		pending = nil
	}

	if pending != nil {
		script.Steps = append(script.Steps, *pending)
		script.abortsAt = append(script.abortsAt, len(script.Aborts))
	}
	return script, nil
}

// MustParse is like Parse but panics on error. Intended for fixed scripts.
func MustParse(text string) *Script {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

func tokenize(text string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(text) {
		if unicode.IsSpace(rune(text[i])) {
			i++
			continue
		}

		var b strings.Builder
		tok := token{quoted: text[i] == '"'}
		if tok.quoted {
			i++
		}

		closed := false
		for i < len(text) {
			c := text[i]
			if tok.quoted && c == '"' {
				closed = true
				i++
				break
			}
			if !tok.quoted && unicode.IsSpace(rune(c)) {
				break
			}
			if c != '\\' {
				b.WriteByte(c)
				i++
				continue
			}

			if i+1 >= len(text) {
				return nil, fmt.Errorf("%w: trailing backslash", ErrSyntax)
			}
			switch esc := text[i+1]; esc {
			case 'r':
				b.WriteByte('\r')
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '"':
				b.WriteByte(esc)
			case 'c':
				tok.noTerm = true
			default:
				return nil, fmt.Errorf("%w: unknown escape \\%c", ErrSyntax, esc)
			}
			i += 2
		}
		if tok.quoted && !closed {
			return nil, fmt.Errorf("%w: unterminated quote", ErrSyntax)
		}

		tok.text = b.String()
		tokens = append(tokens, tok)
	}
	return tokens, nil
}
