package trace

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Specification maps component name patterns to levels.
//
// The textual form is a colon separated list of pattern=level clauses, for
// example "*=info:adapter=debug:pool=off". A pattern is a component name, which
// also matches the components below it ("adapter" matches "adapter.conn"), or a
// prefix followed by "*". An exact name wins, then the longest matching
// pattern; "*" sets the default.
type Specification struct {
	defaultLevel zapcore.Level
	rules        []rule
}

type rule struct {
	pattern string
	prefix  bool
	level   zapcore.Level
}

// SpecError is returned when a trace specification cannot be parsed.
type SpecError struct {
	Clause string
	Reason string
}

// Error returns the error message for SpecError.
func (e *SpecError) Error() string {
	return fmt.Sprintf("trace: invalid clause %q: %s", e.Clause, e.Reason)
}

// ParseSpecification parses a trace specification. An empty string yields the
// default specification (everything at info).
func ParseSpecification(s string) (Specification, error) {
	out := Specification{defaultLevel: zapcore.InfoLevel}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}

	for _, clause := range strings.Split(s, ":") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		pattern, levelName, ok := strings.Cut(clause, "=")
		if !ok {
			return Specification{}, &SpecError{Clause: clause, Reason: "missing '='"}
		}
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			return Specification{}, &SpecError{Clause: clause, Reason: "empty pattern"}
		}
		level, err := parseLevel(levelName)
		if err != nil {
			return Specification{}, &SpecError{Clause: clause, Reason: err.Error()}
		}

		if pattern == "*" {
			out.defaultLevel = level
			continue
		}
		r := rule{pattern: pattern, level: level}
		if strings.HasSuffix(pattern, "*") {
			r.prefix = true
			r.pattern = strings.TrimSuffix(pattern, "*")
		}
		out.rules = append(out.rules, r)
	}
	return out, nil
}

// LevelFor returns the level assigned to a component name.
func (s Specification) LevelFor(name string) zapcore.Level {
	level := s.defaultLevel
	best := -1
	for _, r := range s.rules {
		switch {
		case !r.prefix && r.pattern == name:
			// exact match always beats a prefix
			return r.level
		case !r.prefix && strings.HasPrefix(name, r.pattern+".") && len(r.pattern)+1 > best:
			best = len(r.pattern) + 1
			level = r.level
		case r.prefix && strings.HasPrefix(name, r.pattern) && len(r.pattern) > best:
			best = len(r.pattern)
			level = r.level
		}
	}
	return level
}

func parseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "all", "finest", "finer", "fine", "debug", "entryexit":
		return zapcore.DebugLevel, nil
	case "info", "event", "audit", "":
		return zapcore.InfoLevel, nil
	case "warning", "warn":
		return zapcore.WarnLevel, nil
	case "error", "severe", "fatal":
		return zapcore.ErrorLevel, nil
	case "off":
		return LevelOff, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown level %q", name)
}
