package formula

import (
	"strconv"
	"strings"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenNumber TokenType = iota
	TokenIdentifier
	TokenOperator
	TokenLeftParen
	TokenRightParen
	TokenFunction
	TokenComma
	TokenQuestion
	TokenColon
	TokenBoolean
)

var tokenTypeNames = map[TokenType]string{
	TokenNumber:     "Number",
	TokenIdentifier: "Identifier",
	TokenOperator:   "Operator",
	TokenLeftParen:  "LeftParen",
	TokenRightParen: "RightParen",
	TokenFunction:   "Function",
	TokenComma:      "Comma",
	TokenQuestion:   "Question",
	TokenColon:      "Colon",
	TokenBoolean:    "Boolean",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charQuestion   = '?'
	charPipe       = '|'
	charUnderscore = '_'
	charExclaim    = '!'
)

// reference prefixes
const (
	columnPrefix   = 'C'
	variablePrefix = 'V'
)

// Token represents a lexical token with position information
type Token struct {
	Type  TokenType
	Value string
	Pos   int // rune offset in input
}

// Lexer tokenizes formula expressions. it is single use: create one per
// input string.
type Lexer struct {
	input  string
	runes  []rune // UTF-8 aware representation
	pos    int
	tokens []Token
}

// NewLexer creates a new lexer for the given formula input
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		runes:  []rune(input),
		pos:    0,
		tokens: []Token{},
	}
}

// Tokenize is shorthand for NewLexer(text).Tokenize()
func Tokenize(text string) ([]Token, error) {
	return NewLexer(text).Tokenize()
}

// Tokenize scans the whole input in one left-to-right pass. the first
// unrecognized character stops the scan with a *FormulaError.
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.runes) {
			break
		}
		tok, err := l.nextToken()
		if err != nil {
			err.Formula = l.input
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
	}
	return l.tokens, nil
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() (Token, *FormulaError) {
	startPos := l.pos
	ch := l.current()

	// numbers
	if l.isDigit(ch) || ch == charPeriod {
		return l.scanNumber(startPos), nil
	}

	// C12 / V3 references
	if (ch == columnPrefix || ch == variablePrefix) && l.isDigit(l.peek(1)) {
		return l.scanReference(), nil
	}

	// identifiers, functions, booleans
	if l.isAlpha(ch) || ch == charUnderscore {
		return l.scanIdentifier(), nil
	}

	// negative literal
	if ch == charMinus && l.isUnaryContext() && (l.isDigit(l.peek(1)) || l.peek(1) == charPeriod) {
		l.pos++ // consume '-'
		return l.scanNumber(startPos), nil
	}

	if tok, ok := l.scanOperator(); ok {
		return tok, nil
	}

	return Token{}, newPositionedError(ErrUnexpectedCharacter, startPos,
		"Unexpected character '%c' at position %d", ch, startPos)
}

// helper methods for character navigation and classification

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn {
			l.pos++
		} else {
			break
		}
	}
}

func (l *Lexer) isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func (l *Lexer) isIdentifierChar(ch rune) bool {
	return l.isAlpha(ch) || l.isDigit(ch) || ch == charUnderscore || ch == charPeriod
}

// scanNumber consumes a run of digits and dots. malformed runs like 1.2.3
// are accepted here and rejected when the evaluator parses the literal.
func (l *Lexer) scanNumber(startPos int) Token {
	for l.pos < len(l.runes) && (l.isDigit(l.current()) || l.current() == charPeriod) {
		l.pos++
	}
	return Token{Type: TokenNumber, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanReference consumes the prefix letter and the maximal digit run
func (l *Lexer) scanReference() Token {
	startPos := l.pos
	l.pos++ // consume prefix
	for l.pos < len(l.runes) && l.isDigit(l.current()) {
		l.pos++
	}
	return Token{Type: TokenIdentifier, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanIdentifier scans identifiers, functions, and booleans
func (l *Lexer) scanIdentifier() Token {
	startPos := l.pos
	for l.pos < len(l.runes) && l.isIdentifierChar(l.current()) {
		l.pos++
	}
	value := l.substring(startPos, l.pos)

	if l.current() == charLParen {
		return Token{Type: TokenFunction, Value: value, Pos: startPos}
	}
	if value == "true" || value == "false" {
		return Token{Type: TokenBoolean, Value: value, Pos: startPos}
	}
	return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
}

// scanOperator matches two-character operators before single-character ones
func (l *Lexer) scanOperator() (Token, bool) {
	startPos := l.pos
	ch := l.current()
	next := l.peek(1)

	two := ""
	switch {
	case ch == charGreater && next == charEqual:
		two = ">="
	case ch == charLess && next == charEqual:
		two = "<="
	case ch == charEqual && next == charEqual:
		two = "=="
	case ch == charExclaim && next == charEqual:
		two = "!="
	case ch == charAmpersand && next == charAmpersand:
		two = "&&"
	case ch == charPipe && next == charPipe:
		two = "||"
	}
	if two != "" {
		l.pos += 2
		return Token{Type: TokenOperator, Value: two, Pos: startPos}, true
	}

	var tokType TokenType
	switch ch {
	case charPlus, charMinus, charAsterisk, charSlash, charGreater, charLess:
		tokType = TokenOperator
	case charLParen:
		tokType = TokenLeftParen
	case charRParen:
		tokType = TokenRightParen
	case charComma:
		tokType = TokenComma
	case charQuestion:
		tokType = TokenQuestion
	case charColon:
		tokType = TokenColon
	default:
		return Token{}, false
	}
	l.pos++
	return Token{Type: tokType, Value: string(ch), Pos: startPos}, true
}

// isUnaryContext checks whether a '-' here starts a signed literal: at the
// start of input, or after an operator, a left paren or a comma
func (l *Lexer) isUnaryContext() bool {
	if len(l.tokens) == 0 {
		return true
	}
	switch l.tokens[len(l.tokens)-1].Type {
	case TokenOperator, TokenLeftParen, TokenComma:
		return true
	default:
		return false
	}
}

// ColumnRef formats a column reference name
func ColumnRef(index int) string {
	return string(columnPrefix) + strconv.Itoa(index)
}

// VariableRef formats a variable reference name
func VariableRef(index int) string {
	return string(variablePrefix) + strconv.Itoa(index)
}

// IsColumnRef reports whether name has the exact form C<digits>
func IsColumnRef(name string) bool {
	_, ok := parseRef(name, columnPrefix)
	return ok
}

// IsVariableRef reports whether name has the exact form V<digits>
func IsVariableRef(name string) bool {
	_, ok := parseRef(name, variablePrefix)
	return ok
}

// ParseColumnRef returns the column index of a C<digits> reference
func ParseColumnRef(name string) (int, bool) {
	return parseRef(name, columnPrefix)
}

// ParseVariableRef returns the variable index of a V<digits> reference
func ParseVariableRef(name string) (int, bool) {
	return parseRef(name, variablePrefix)
}

func parseRef(name string, prefix rune) (int, bool) {
	if len(name) < 2 || rune(name[0]) != prefix {
		return 0, false
	}
	digits := name[1:]
	if strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
