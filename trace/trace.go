// Package trace provides named, level-controlled diagnostic components.
//
// Each wrapper type registers one Component. Components share a single zap
// logger but carry their own level, so diagnostics for one part of the stack
// can be raised to debug without flooding the rest. Levels are set with a
// trace specification such as "*=info:adapter.*=debug".
package trace

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelOff disables every record for a component.
const LevelOff = zapcore.FatalLevel + 1

// Component is a named diagnostic source.
type Component struct {
	name  string
	level zap.AtomicLevel

	mu     sync.RWMutex
	logger *zap.Logger
}

var (
	registryMu sync.Mutex
	components = map[string]*Component{}
	base       = zap.NewNop()
	spec       = Specification{defaultLevel: zapcore.InfoLevel}
)

// Register returns the component with the given name, creating it on first use.
// The component's level is taken from the current trace specification.
func Register(name string) *Component {
	registryMu.Lock()
	defer registryMu.Unlock()

	if c, ok := components[name]; ok {
		return c
	}
	c := &Component{
		name:   name,
		level:  zap.NewAtomicLevelAt(spec.LevelFor(name)),
		logger: base.Named(name),
	}
	components[name] = c
	return c
}

// SetLogger replaces the logger used by every registered component.
// A nil logger installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	registryMu.Lock()
	defer registryMu.Unlock()

	base = l
	for _, c := range components {
		c.mu.Lock()
		c.logger = l.Named(c.name)
		c.mu.Unlock()
	}
}

// SetSpecification parses s and applies it to all registered components and
// to components registered later.
func SetSpecification(s string) error {
	parsed, err := ParseSpecification(s)
	if err != nil {
		return err
	}
	registryMu.Lock()
	defer registryMu.Unlock()

	spec = parsed
	for name, c := range components {
		c.level.SetLevel(spec.LevelFor(name))
	}
	return nil
}

// Components returns the names of all registered components, sorted.
func Components() []string {
	registryMu.Lock()
	defer registryMu.Unlock()

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the component name.
func (c *Component) Name() string {
	return c.name
}

// Level returns the component's current level.
func (c *Component) Level() zapcore.Level {
	return c.level.Level()
}

// SetLevel overrides the component's level until the next SetSpecification.
func (c *Component) SetLevel(l zapcore.Level) {
	c.level.SetLevel(l)
}

func (c *Component) enabled(l zapcore.Level) bool {
	if !c.level.Enabled(l) {
		return false
	}
	return c.log().Core().Enabled(l)
}

func (c *Component) log() *zap.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// IsDebugEnabled reports whether debug records would be written.
func (c *Component) IsDebugEnabled() bool {
	return c.enabled(zapcore.DebugLevel)
}

// IsEntryEnabled reports whether method entry/exit records would be written.
func (c *Component) IsEntryEnabled() bool {
	return c.enabled(zapcore.DebugLevel)
}

// Entry records entry into method.
func (c *Component) Entry(method string, fields ...zap.Field) {
	if !c.IsEntryEnabled() {
		return
	}
	c.log().Debug("entry", append([]zap.Field{zap.String("method", method)}, fields...)...)
}

// Exit records exit from method.
func (c *Component) Exit(method string, fields ...zap.Field) {
	if !c.IsEntryEnabled() {
		return
	}
	c.log().Debug("exit", append([]zap.Field{zap.String("method", method)}, fields...)...)
}

// Debug writes a debug record attributed to method.
func (c *Component) Debug(method, msg string, fields ...zap.Field) {
	if !c.IsDebugEnabled() {
		return
	}
	c.log().Debug(msg, append([]zap.Field{zap.String("method", method)}, fields...)...)
}

// Info writes an informational record.
func (c *Component) Info(msg string, fields ...zap.Field) {
	if !c.enabled(zapcore.InfoLevel) {
		return
	}
	c.log().Info(msg, fields...)
}

// Warn writes a warning record.
func (c *Component) Warn(msg string, fields ...zap.Field) {
	if !c.enabled(zapcore.WarnLevel) {
		return
	}
	c.log().Warn(msg, fields...)
}

// Error writes an error record.
func (c *Component) Error(msg string, fields ...zap.Field) {
	if !c.enabled(zapcore.ErrorLevel) {
		return
	}
	c.log().Error(msg, fields...)
}
