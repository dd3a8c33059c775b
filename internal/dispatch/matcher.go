package dispatch

import (
	"strings"
	"unicode"

	"github.com/kapu/iris-dispatch-go/internal/domain"
)

// Options are the table-level dispatch defaults. Definitions may override
// the prefix requirement and literal case sensitivity individually.
type Options struct {
	Prefix        string
	PrefixMode    PrefixMode
	CaseSensitive bool
}

func (o Options) prefixMode() PrefixMode {
	if o.PrefixMode == PrefixDefault {
		return PrefixAlways
	}
	return o.PrefixMode
}

// matchResult is the outcome of testing one definition against a message.
// reason is diagnostic only and never reaches the remote party.
type matchResult struct {
	ok     bool
	def    *Definition
	tokens []string
	reason string
}

func nonMatch(reason string) matchResult {
	return matchResult{reason: reason}
}

// match tests a definition's trigger against a message. Pure, no
// suspension. A failed prefix check or arity mismatch is a non-match, not
// an error.
func match(def *Definition, opts Options, msg *domain.Message) matchResult {
	text := strings.TrimSpace(msg.Text)

	mode := def.Prefix
	if mode == PrefixDefault {
		mode = opts.prefixMode()
	}

	hasPrefix := opts.Prefix != "" && strings.HasPrefix(text, opts.Prefix)
	required := mode == PrefixAlways || (mode == PrefixGroupOnly && msg.IsGroupChat)
	if required && !hasPrefix {
		return nonMatch("prefix required but absent")
	}
	if hasPrefix {
		text = strings.TrimSpace(text[len(opts.Prefix):])
	}

	switch trig := def.Trigger.(type) {
	case Literal:
		return matchLiteral(def, trig, opts, text)
	case Pattern:
		return matchPattern(def, trig, text)
	default:
		return nonMatch("unknown trigger kind")
	}
}

func matchLiteral(def *Definition, trig Literal, opts Options, text string) matchResult {
	tokens := tokenize(text)
	phrase := strings.Fields(trig.Phrase)
	if len(tokens) < len(phrase) {
		return nonMatch("text shorter than trigger phrase")
	}

	caseSensitive := opts.CaseSensitive
	if trig.CaseSensitive != nil {
		caseSensitive = *trig.CaseSensitive
	}
	for i, want := range phrase {
		got := tokens[i]
		if caseSensitive {
			if got != want {
				return nonMatch("phrase mismatch")
			}
		} else if !strings.EqualFold(got, want) {
			return nonMatch("phrase mismatch")
		}
	}

	rest := tokens[len(phrase):]
	capacity, catchAll := def.positionalCapacity()
	if !catchAll && len(rest) > capacity {
		return nonMatch("too many arguments")
	}
	return matchResult{ok: true, def: def, tokens: rest}
}

func matchPattern(def *Definition, trig Pattern, text string) matchResult {
	m := trig.Expr.FindStringSubmatch(text)
	if m == nil || m[0] != text {
		return nonMatch("pattern mismatch")
	}
	groups := m[1:]

	capacity, _ := def.positionalCapacity()
	if len(groups) > capacity {
		return nonMatch("more capture groups than parameters")
	}
	if len(groups) < def.requiredPositionals() {
		return nonMatch("fewer capture groups than required parameters")
	}
	return matchResult{ok: true, def: def, tokens: groups}
}

var closers = map[rune]rune{'"': '"', '(': ')', '[': ']'}

// tokenize splits text on whitespace. A delimiter opening at a token
// boundary groups everything up to its closer into one token with the
// delimiters removed; an unterminated group runs to the end of the text.
func tokenize(text string) []string {
	var tokens []string
	rs := []rune(text)
	i := 0
	for i < len(rs) {
		for i < len(rs) && unicode.IsSpace(rs[i]) {
			i++
		}
		if i >= len(rs) {
			break
		}
		if closer, ok := closers[rs[i]]; ok {
			j := i + 1
			for j < len(rs) && rs[j] != closer {
				j++
			}
			tokens = append(tokens, string(rs[i+1:j]))
			if j < len(rs) {
				j++
			}
			i = j
			continue
		}
		j := i
		for j < len(rs) && !unicode.IsSpace(rs[j]) {
			j++
		}
		tokens = append(tokens, string(rs[i:j]))
		i = j
	}
	return tokens
}
