package engine

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"thenchange/internal/region"
)

// ScanMode selects which files a check reads.
type ScanMode int

const (
	// ScanAll reads and parses every file of both snapshots.
	ScanAll ScanMode = iota
	// ScanChanged reads only files the provider reports as changed. Files
	// outside that set are known identical and impose no obligation.
	ScanChanged
)

func (s ScanMode) String() string {
	if s == ScanChanged {
		return "changed"
	}
	return "all"
}

// ParseScanMode maps a config string to a ScanMode.
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ScanAll, nil
	case "changed":
		return ScanChanged, nil
	default:
		return ScanAll, fmt.Errorf("unknown scan mode %q (want all or changed)", s)
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithParser sets the region parser. The default uses the standard markers
// and the strict close policy.
func WithParser(p *region.Parser) Option {
	return func(e *Engine) {
		if p != nil {
			e.parser = p
		}
	}
}

// WithWorkers bounds concurrent per-file work. Values below 1 keep the
// default of GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMatching selects the region matching strategy.
func WithMatching(m Matching) Option {
	return func(e *Engine) { e.matching = m }
}

// WithScan selects which files are read.
func WithScan(s ScanMode) Option {
	return func(e *Engine) { e.scan = s }
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

