package logging

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every registered logger whose dotted name matches Pattern.
// A "*" matches any run of characters, e.g. "rgbd.*" or "*.sync".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

var validPattern = regexp.MustCompile(`^([a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*|\*)(\.([a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*|\*))*$`)

// Validate checks the pattern shape and level name.
func (lpc LoggerPatternConfig) Validate() error {
	if !validPattern.MatchString(lpc.Pattern) {
		return errors.Errorf("invalid logger pattern %q", lpc.Pattern)
	}
	_, err := LevelFromString(lpc.Level)
	return err
}

func (lpc LoggerPatternConfig) regexp() (*regexp.Regexp, error) {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range lpc.Pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return regexp.Compile(matcher.String())
}

// registry tracks named loggers so level patterns can be applied to loggers created before and
// after the patterns are set.
type registry struct {
	mu       sync.Mutex
	loggers  map[string]Logger
	patterns []LoggerPatternConfig
}

var globalRegistry = &registry{loggers: map[string]Logger{}}

// getOrRegister returns the logger already registered under name, or registers the given one and
// applies the current patterns to it. Concurrent callers with the same name all get the winner.
func (r *registry) getOrRegister(name string, logger Logger) Logger {
	if name == "" {
		return logger
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.loggers[name]; ok {
		return existing
	}
	r.loggers[name] = logger
	r.applyLocked(name, logger)
	return logger
}

func (r *registry) applyLocked(name string, logger Logger) {
	for _, lpc := range r.patterns {
		re, err := lpc.regexp()
		if err != nil || !re.MatchString(name) {
			continue
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			continue
		}
		logger.SetLevel(level)
	}
}

// UpdateLogLevels replaces the active pattern list. Registered loggers that no longer match any
// pattern are reset to INFO. Later patterns win over earlier ones.
func UpdateLogLevels(patterns []LoggerPatternConfig) error {
	for _, lpc := range patterns {
		if err := lpc.Validate(); err != nil {
			return err
		}
	}
	r := globalRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append([]LoggerPatternConfig(nil), patterns...)
	for name, logger := range r.loggers {
		logger.SetLevel(INFO)
		r.applyLocked(name, logger)
	}
	return nil
}

// LoggerNamed returns the registered logger with the given dotted name.
func LoggerNamed(name string) (Logger, bool) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	logger, ok := globalRegistry.loggers[name]
	return logger, ok
}
