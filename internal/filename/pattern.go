package filename

import (
	"strconv"
	"strings"
	"unicode"
)

type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenFilename
	TokenIndex
	TokenWidth
	TokenHeight
)

// MaxIndexPad caps the zero padding of {index,N}.
const MaxIndexPad = 5

type Token struct {
	Kind TokenKind
	// Text holds literal text, including unrecognized {tokens} verbatim.
	Text string
	Pad  int
}

// Tokenize splits a pattern in a single left-to-right pass. A token is a
// brace-delimited run of word characters and commas; anything else is
// literal text.
func Tokenize(pattern string) []Token {
	var (
		tokens  []Token
		literal strings.Builder
	)
	flush := func() {
		if literal.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenLiteral, Text: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(pattern); {
		if pattern[i] == '{' {
			if end := tokenEnd(pattern, i+1); end > 0 {
				keyword := pattern[i+1 : end]
				if tok, ok := keywordToken(keyword); ok {
					flush()
					tokens = append(tokens, tok)
				} else {
					literal.WriteString(pattern[i : end+1])
				}
				i = end + 1
				continue
			}
		}
		literal.WriteByte(pattern[i])
		i++
	}
	flush()
	return tokens
}

// tokenEnd returns the index of the closing brace for a keyword starting at
// start, or -1 when the run is empty or broken by a non-keyword character.
func tokenEnd(pattern string, start int) int {
	for j := start; j < len(pattern); j++ {
		c := rune(pattern[j])
		switch {
		case c == '}':
			if j == start {
				return -1
			}
			return j
		case c == ',' || c == '_' || c < unicode.MaxASCII && (unicode.IsLetter(c) || unicode.IsDigit(c)):
		default:
			return -1
		}
	}
	return -1
}

func keywordToken(keyword string) (Token, bool) {
	switch keyword {
	case "filename":
		return Token{Kind: TokenFilename}, true
	case "width":
		return Token{Kind: TokenWidth}, true
	case "height":
		return Token{Kind: TokenHeight}, true
	case "index":
		return Token{Kind: TokenIndex}, true
	}
	if arg, ok := strings.CutPrefix(keyword, "index,"); ok {
		return Token{Kind: TokenIndex, Pad: min(leadingInt(arg), MaxIndexPad)}, true
	}
	return Token{}, false
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Values feeds token substitution.
type Values struct {
	Stem   string
	Index  int
	Width  int
	Height int
}

func Render(tokens []Token, v Values) string {
	var b strings.Builder
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenFilename:
			b.WriteString(v.Stem)
		case TokenIndex:
			idx := strconv.Itoa(v.Index + 1)
			if pad := tok.Pad - len(idx); pad > 0 {
				b.WriteString(strings.Repeat("0", pad))
			}
			b.WriteString(idx)
		case TokenWidth:
			b.WriteString(strconv.Itoa(v.Width))
		case TokenHeight:
			b.WriteString(strconv.Itoa(v.Height))
		default:
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}
