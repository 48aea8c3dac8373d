package fabnet

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"unicode"

	"github.com/pkg/errors"
)

// Reply is one line received from a node.
type Reply interface {
	From() Address
}

// Ack acknowledges a command.
type Ack struct {
	Addr Address
}

func (a *Ack) From() Address { return a.Addr }

func (a *Ack) String() string { return "ok" }

// StatusReply answers STAT.
type StatusReply struct {
	Addr      Address
	State     string
	Remaining int64
	Position  int64
}

func (s *StatusReply) From() Address { return s.Addr }

// Fault is a node-side error code.
type Fault struct {
	Addr Address
	Code int
}

func (f *Fault) From() Address { return f.Addr }

func (f *Fault) Error() string { return fmt.Sprintf("node %s reported error %d", f.Addr, f.Code) }

// Identity answers ACQ with the node's address and firmware.
type Identity struct {
	Addr     Address
	Firmware string
}

func (i *Identity) From() Address { return i.Addr }

type Token int

const (
	Newline Token = iota
	OpenAngle
	CloseAngle
	Colon
	Bar
	Identifier
	Number
)

var tokens = []string{
	Newline:    "NEWLINE",
	OpenAngle:  "<",
	CloseAngle: ">",
	Colon:      ":",
	Bar:        "|",
	Identifier: "IDENT",
	Number:     "NUMBER",
}

func (t Token) String() string {
	return tokens[t]
}

type Lexer struct {
	pos int
	rdr *bufio.Reader
}

func NewLexer(r io.Reader) *Lexer {
	return &Lexer{rdr: bufio.NewReader(r)}
}

// Lex returns the next token. End of input reads as a newline.
func (l *Lexer) Lex() (int, Token, string) {
	for {
		l.pos++
		r, _, err := l.rdr.ReadRune()
		if err != nil {
			return l.pos, Newline, Newline.String()
		}
		switch r {
		case '\n':
			return l.pos, Newline, Newline.String()
		case '<':
			return l.pos, OpenAngle, OpenAngle.String()
		case '>':
			return l.pos, CloseAngle, CloseAngle.String()
		case ':':
			return l.pos, Colon, Colon.String()
		case '|':
			return l.pos, Bar, Bar.String()
		default:
			start := l.pos
			if unicode.IsDigit(r) || r == '-' {
				l.backup()
				return start, Number, l.lexWhile(isNumberPart)
			}
			if unicode.IsLetter(r) {
				l.backup()
				return start, Identifier, l.lexWhile(isIdentPart)
			}
		}
	}
}

func isNumberPart(r rune) bool {
	return unicode.IsDigit(r) || r == '-'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.'
}

func (l *Lexer) lexWhile(accept func(rune) bool) string {
	var lit []rune
	for {
		r, _, err := l.rdr.ReadRune()
		if err != nil {
			return string(lit)
		}
		if !accept(r) {
			l.backup()
			return string(lit)
		}
		l.pos++
		lit = append(lit, r)
	}
}

func (l *Lexer) backup() {
	l.pos--
	// only called directly after a successful ReadRune
	_ = l.rdr.UnreadRune()
}

// ErrNotReply marks a line that is not framed as a reply, such as boot noise.
var ErrNotReply = errors.New("not a reply")

type Parser struct {
	lexer *Lexer
}

func NewParser(r io.Reader) *Parser {
	return &Parser{lexer: NewLexer(r)}
}

func (p *Parser) errorf(pos int, format string, args ...interface{}) error {
	return errors.Errorf("%d: %s", pos, fmt.Sprintf(format, args...))
}

func (p *Parser) expect(want Token) (string, error) {
	pos, tok, lit := p.lexer.Lex()
	if tok != want {
		return "", p.errorf(pos, "expected %s, got %q", want, lit)
	}
	return lit, nil
}

func (p *Parser) number() (int64, error) {
	if _, err := p.expect(Colon); err != nil {
		return 0, err
	}
	pos, tok, lit := p.lexer.Lex()
	if tok != Number {
		return 0, p.errorf(pos, "expected number, got %q", lit)
	}
	v, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return 0, p.errorf(pos, "expected number, got %q", lit)
	}
	return v, nil
}

// Parse reads a single reply line such as <3|Idle|Rem:0|Pos:1200>.
func (p *Parser) Parse() (Reply, error) {
	pos, tok, lit := p.lexer.Lex()
	if tok != OpenAngle {
		return nil, errors.Wrapf(ErrNotReply, "%d: got %q", pos, lit)
	}
	pos, tok, lit = p.lexer.Lex()
	if tok != Number {
		return nil, p.errorf(pos, "expected address, got %q", lit)
	}
	a, err := strconv.Atoi(lit)
	if err != nil || a < 0 {
		return nil, p.errorf(pos, "invalid address %q", lit)
	}
	addr := Address(a)

	var (
		ack, hasRem bool
		status      = &StatusReply{Addr: addr}
		fault       *Fault
		ident       *Identity
	)
	for {
		pos, tok, lit := p.lexer.Lex()
		switch tok {
		case Bar:
			continue
		case CloseAngle:
			switch {
			case fault != nil:
				return fault, nil
			case ident != nil:
				return ident, nil
			case status.State != "" || hasRem:
				return status, nil
			case ack:
				return &Ack{Addr: addr}, nil
			}
			return nil, p.errorf(pos, "empty reply from %s", addr)
		case Identifier:
			switch lit {
			case "ok":
				ack = true
			case "Idle", "Run", "Alarm":
				status.State = lit
			case "Rem":
				if status.Remaining, err = p.number(); err != nil {
					return nil, err
				}
				hasRem = true
			case "Pos":
				if status.Position, err = p.number(); err != nil {
					return nil, err
				}
			case "error":
				code, err := p.number()
				if err != nil {
					return nil, err
				}
				fault = &Fault{Addr: addr, Code: int(code)}
			case "fw":
				if _, err := p.expect(Colon); err != nil {
					return nil, err
				}
				fw, err := p.expect(Identifier)
				if err != nil {
					return nil, err
				}
				ident = &Identity{Addr: addr, Firmware: fw}
			default:
				return nil, p.errorf(pos, "unknown identifier %q", lit)
			}
		case Newline:
			return nil, p.errorf(pos, "unterminated reply")
		default:
			return nil, p.errorf(pos, "unexpected %q", lit)
		}
	}
}
