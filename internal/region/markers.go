package region

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Markers holds the three lexemes of the annotation syntax.
type Markers struct {
	Open   string `yaml:"open" json:"open" validate:"required,excludesall= \t"`
	Target string `yaml:"target" json:"target" validate:"required,excludesall= \t"`
	Close  string `yaml:"close" json:"close" validate:"required,excludesall= \t"`
}

// DefaultMarkers returns the if-change / then-change / end-change syntax.
func DefaultMarkers() Markers {
	return Markers{Open: "if-change", Target: "then-change", Close: "end-change"}
}

// Validate checks that the lexemes are usable on their own line.
func (m Markers) Validate() error {
	var errs []error
	fields := []struct{ name, v string }{{"open", m.Open}, {"target", m.Target}, {"close", m.Close}}
	for _, f := range fields {
		name, v := f.name, f.v
		if v == "" {
			errs = append(errs, fmt.Errorf("%s marker must be non-empty", name))
			continue
		}
		if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
			errs = append(errs, fmt.Errorf("%s marker %q must not contain whitespace", name, v))
		}
	}
	if m.Open != "" && (m.Open == m.Target || m.Open == m.Close) || m.Target != "" && m.Target == m.Close {
		errs = append(errs, errors.New("markers must be distinct"))
	}
	return errors.Join(errs...)
}

// ClosePolicy decides what happens to a region still open at end of file.
type ClosePolicy int

const (
	// CloseStrict reports an unterminated region as malformed.
	CloseStrict ClosePolicy = iota
	// CloseAtEOF closes an unterminated region at the last line.
	CloseAtEOF
)

func (p ClosePolicy) String() string {
	switch p {
	case CloseStrict:
		return "strict"
	case CloseAtEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// ParseClosePolicy maps a config string to a ClosePolicy.
func ParseClosePolicy(s string) (ClosePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return CloseStrict, nil
	case "eof":
		return CloseAtEOF, nil
	default:
		return CloseStrict, fmt.Errorf("unknown close policy %q (want strict or eof)", s)
	}
}
