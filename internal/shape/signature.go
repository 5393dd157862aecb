package shape

import (
	"fmt"
	"slices"
	"strings"
)

// Signature is the ordered, immutable list of argument shapes of one call.
// It is the key under which compiled specializations are stored.
type Signature struct {
	shapes []Shape
	key    string
}

// NewSignature builds a signature from shapes. The slice is copied.
func NewSignature(shapes ...Shape) Signature {
	s := Signature{shapes: slices.Clone(shapes)}
	var b strings.Builder
	b.WriteByte('(')
	for i, sh := range s.shapes {
		if i > 0 {
			b.WriteString(", ")
		}
		sh.write(&b)
	}
	b.WriteByte(')')
	s.key = b.String()
	return s
}

// Len returns the number of arguments.
func (s Signature) Len() int { return len(s.shapes) }

// At returns the i-th argument shape.
func (s Signature) At(i int) Shape { return s.shapes[i] }

// Shapes returns a copy of the argument shapes.
func (s Signature) Shapes() []Shape { return slices.Clone(s.shapes) }

// Key is the canonical string form, e.g. "(int64, float64)".
func (s Signature) Key() string {
	if s.key == "" {
		return "()"
	}
	return s.key
}

func (s Signature) String() string { return s.Key() }

// Equal reports whether both signatures have the same shapes.
func (s Signature) Equal(o Signature) bool { return s.Key() == o.Key() }

// Names returns each shape rendered as a string.
func (s Signature) Names() []string {
	out := make([]string, len(s.shapes))
	for i, sh := range s.shapes {
		out[i] = sh.String()
	}
	return out
}

// Canonical returns the signature as a canonical-JSON-ready value.
func (s Signature) Canonical() []any {
	out := make([]any, len(s.shapes))
	for i, sh := range s.shapes {
		out[i] = sh.canonical()
	}
	return out
}

// Declaration is an explicit signature such as "int64(int64, int64)".
// The return shape is optional.
type Declaration struct {
	Return    Shape
	HasReturn bool
	Params    Signature
}

// ParseShape parses a single shape, e.g. "array(float64)".
// "int" and "float" are accepted as aliases of int64 and float64.
func ParseShape(src string) (Shape, error) {
	p := &sigParser{src: src}
	p.skipSpace()
	sh, err := p.shape()
	if err != nil {
		return Shape{}, err
	}
	p.skipSpace()
	if !p.eof() {
		return Shape{}, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return sh, nil
}

// ParseSignature parses "(a, b)" or "ret(a, b)" and returns the parameters.
func ParseSignature(src string) (Signature, error) {
	d, err := ParseDeclaration(src)
	if err != nil {
		return Signature{}, err
	}
	return d.Params, nil
}

// ParseDeclaration parses an explicit signature with an optional return shape.
func ParseDeclaration(src string) (Declaration, error) {
	p := &sigParser{src: src}
	var d Declaration
	p.skipSpace()
	if p.peek() != '(' {
		ret, err := p.shape()
		if err != nil {
			return Declaration{}, err
		}
		d.Return = ret
		d.HasReturn = true
		p.skipSpace()
	}
	if err := p.expect('('); err != nil {
		return Declaration{}, err
	}
	var params []Shape
	p.skipSpace()
	if p.peek() != ')' {
		for {
			sh, err := p.shape()
			if err != nil {
				return Declaration{}, err
			}
			params = append(params, sh)
			p.skipSpace()
			if p.peek() != ',' {
				break
			}
			p.pos++
			p.skipSpace()
		}
	}
	if err := p.expect(')'); err != nil {
		return Declaration{}, err
	}
	p.skipSpace()
	if !p.eof() {
		return Declaration{}, p.errorf("unexpected %q", p.src[p.pos:])
	}
	d.Params = NewSignature(params...)
	return d, nil
}

type sigParser struct {
	src string
	pos int
}

func (p *sigParser) eof() bool { return p.pos >= len(p.src) }

func (p *sigParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *sigParser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *sigParser) errorf(format string, args ...any) error {
	return fmt.Errorf("parse signature %q at %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *sigParser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		if p.eof() {
			return p.errorf("expected %q, got end of input", c)
		}
		return p.errorf("expected %q, got %q", c, p.peek())
	}
	p.pos++
	return nil
}

func (p *sigParser) ident() string {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *sigParser) shape() (Shape, error) {
	p.skipSpace()
	name := p.ident()
	switch name {
	case "bool":
		return Bool, nil
	case "int32":
		return Int32, nil
	case "int64", "int":
		return Int64, nil
	case "float32":
		return Float32, nil
	case "float64", "float":
		return Float64, nil
	case "string":
		return String, nil
	case "array":
		if err := p.expect('('); err != nil {
			return Shape{}, err
		}
		elem, err := p.shape()
		if err != nil {
			return Shape{}, err
		}
		if err := p.expect(')'); err != nil {
			return Shape{}, err
		}
		return ArrayOf(elem), nil
	case "record":
		return p.record()
	case "opaque":
		return p.opaque()
	case "":
		if p.eof() {
			return Shape{}, p.errorf("expected shape, got end of input")
		}
		return Shape{}, p.errorf("expected shape, got %q", p.peek())
	}
	return Shape{}, p.errorf("unknown shape %q", name)
}

func (p *sigParser) record() (Shape, error) {
	if err := p.expect('{'); err != nil {
		return Shape{}, err
	}
	var fields []Field
	p.skipSpace()
	if p.peek() != '}' {
		for {
			p.skipSpace()
			name := p.ident()
			if name == "" {
				return Shape{}, p.errorf("expected field name")
			}
			if err := p.expect(':'); err != nil {
				return Shape{}, err
			}
			sh, err := p.shape()
			if err != nil {
				return Shape{}, err
			}
			fields = append(fields, Field{Name: name, Shape: sh})
			p.skipSpace()
			if p.peek() != ',' {
				break
			}
			p.pos++
		}
	}
	if err := p.expect('}'); err != nil {
		return Shape{}, err
	}
	return RecordOf(fields...), nil
}

// opaque reads a Go type name up to the matching close paren.
func (p *sigParser) opaque() (Shape, error) {
	if err := p.expect('('); err != nil {
		return Shape{}, err
	}
	start := p.pos
	depth := 1
	for !p.eof() {
		switch p.src[p.pos] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				name := p.src[start:p.pos]
				p.pos++
				return Opaque(name), nil
			}
		}
		p.pos++
	}
	return Shape{}, p.errorf("unterminated opaque shape")
}
