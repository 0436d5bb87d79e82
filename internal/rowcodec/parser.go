package rowcodec

import (
	"fmt"
	"strings"
)

// parser reads RFC 4180 records one at a time. Unlike encoding/csv it reports
// blank lines as records so that single-column payloads keep empty rows.
type parser struct {
	data  []byte
	pos   int
	comma byte
	line  int
	b     strings.Builder
}

// next returns the following record, or ok=false once the input is exhausted.
// A terminator at the very end of the input does not start another record.
func (p *parser) next() (fields []string, ok bool, err error) {
	if p.pos >= len(p.data) {
		return nil, false, nil
	}
	p.line++
	start := p.line

	for {
		p.b.Reset()
		if p.pos < len(p.data) && p.data[p.pos] == '"' {
			if err := p.quoted(start); err != nil {
				return nil, false, err
			}
		} else {
			for p.pos < len(p.data) && !p.atFieldEnd() {
				p.b.WriteByte(p.data[p.pos])
				p.pos++
			}
		}
		fields = append(fields, p.b.String())

		if p.pos >= len(p.data) {
			return fields, true, nil
		}
		if p.data[p.pos] == p.comma {
			p.pos++
			continue
		}
		if p.data[p.pos] == '\r' {
			p.pos++
		}
		if p.pos < len(p.data) && p.data[p.pos] == '\n' {
			p.pos++
		}
		return fields, true, nil
	}
}

func (p *parser) quoted(start int) error {
	p.pos++
	for {
		if p.pos >= len(p.data) {
			return fmt.Errorf("rowcodec: line %d: unterminated quoted field", start)
		}
		c := p.data[p.pos]
		if c == '"' {
			if p.pos+1 < len(p.data) && p.data[p.pos+1] == '"' {
				p.b.WriteByte('"')
				p.pos += 2
				continue
			}
			p.pos++
			break
		}
		if c == '\n' {
			p.line++
		}
		p.b.WriteByte(c)
		p.pos++
	}
	if p.pos < len(p.data) && !p.atFieldEnd() {
		return fmt.Errorf("rowcodec: line %d: unexpected %q after closing quote", p.line, p.data[p.pos])
	}
	return nil
}

func (p *parser) atFieldEnd() bool {
	c := p.data[p.pos]
	if c == p.comma || c == '\n' {
		return true
	}
	return c == '\r' && (p.pos+1 == len(p.data) || p.data[p.pos+1] == '\n')
}
