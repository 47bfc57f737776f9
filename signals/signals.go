package signals

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"gregoryjjb/vgpio/regmap"
)

var (
	ErrUnknownSignal = errors.New("unknown signal")
	ErrValidation    = errors.New("invalid signal")
)

// DefaultDelay is the pause after each sample when nothing else is given
const DefaultDelay = time.Second

type Sample struct {
	Pin   int
	Value bool
}

// Signal is a named sequence of pin samples. Values handed out by a
// Library are copies; the library's definitions never change.
type Signal struct {
	Name    string
	Delay   time.Duration
	Samples []Sample
}

func (s Signal) clone() Signal {
	samples := make([]Sample, len(s.Samples))
	copy(samples, s.Samples)
	s.Samples = samples
	return s
}

var badNameRegex = regexp.MustCompile(`\s`)

// ValidateName rejects names that could be confused with a pin number
// on the command line.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be blank", ErrValidation)
	}
	if badNameRegex.MatchString(name) {
		return fmt.Errorf("%w: name %q contains whitespace", ErrValidation, name)
	}
	if _, err := regmap.ParseLiteral(name); err == nil {
		return fmt.Errorf("%w: name %q is numeric", ErrValidation, name)
	}
	return nil
}

func (s Signal) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if len(s.Samples) == 0 {
		return fmt.Errorf("%w: %q has no samples", ErrValidation, s.Name)
	}
	if s.Delay < 0 {
		return fmt.Errorf("%w: %q has negative delay", ErrValidation, s.Name)
	}
	for i, sample := range s.Samples {
		if err := regmap.CheckPin(sample.Pin); err != nil {
			return fmt.Errorf("%w: %q sample %d: %w", ErrValidation, s.Name, i, err)
		}
	}
	return nil
}

type Library struct {
	mu      sync.RWMutex
	signals map[string]Signal
}

func NewLibrary() *Library {
	return &Library{signals: make(map[string]Signal)}
}

// Add registers sig, replacing any signal with the same name.
func (l *Library) Add(sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals[sig.Name] = sig.clone()
	return nil
}

func (l *Library) Get(name string) (Signal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sig, ok := l.signals[name]
	if !ok {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return sig.clone(), nil
}

func (l *Library) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.signals[name]
	return ok
}

// Names returns the registered names in sorted order
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.signals))
	for name := range l.signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
