package bank

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTone = errors.New("unknown tone")
	ErrUnknownBus  = errors.New("unknown bus")
	ErrUnknownWave = errors.New("unknown wave")
	ErrInvalid     = errors.New("invalid bank")
)

// Problem is one validation failure located by a JSON-style path.
type Problem struct {
	Path string
	Msg  string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Msg
	}
	return p.Path + ": " + p.Msg
}

// ValidationError collects every problem found in one pass.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%v: %s", ErrInvalid, e.Problems[0])
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%v: %d problems: %s", ErrInvalid, len(e.Problems), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

type collector struct {
	problems []Problem
}

func (c *collector) add(path, format string, args ...any) {
	c.problems = append(c.problems, Problem{Path: path, Msg: fmt.Sprintf(format, args...)})
}

func (c *collector) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: c.problems}
}
