// Package validate checks client-supplied tmux identifiers and commands
// before anything reaches the tmux binary.
//
// Every function is pure and total: any input, including empty or very long
// strings, yields a result without panicking.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxIdentifierLength bounds targets and names. Longer input is rejected
	// before pattern evaluation.
	MaxIdentifierLength = 128

	// MaxCommandLength bounds the text passed to send-keys, in characters.
	MaxCommandLength = 4096
)

var (
	ErrInvalidTarget  = errors.New("invalid target")
	ErrInvalidName    = errors.New("invalid name")
	ErrCommandTooLong = errors.New("command too long")
)

const namePattern = `[A-Za-z0-9_.-]+`

var (
	nameRE   = regexp.MustCompile(`^` + namePattern + `$`)
	targetRE = regexp.MustCompile(`^` + namePattern + `(:` + namePattern + `(\.` + namePattern + `)?)?$`)
)

// Target reports whether s is a valid tmux target: session, session:window,
// or session:window.pane.
func Target(s string) bool {
	if s == "" || len(s) > MaxIdentifierLength {
		return false
	}
	return targetRE.MatchString(s)
}

// Name reports whether s is a valid session or window name.
func Name(s string) bool {
	if s == "" || len(s) > MaxIdentifierLength {
		return false
	}
	return nameRE.MatchString(s)
}

// CheckTarget returns an error wrapping ErrInvalidTarget if s is not a valid target.
func CheckTarget(s string) error {
	if !Target(s) {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, clip(s))
	}
	return nil
}

// CheckName returns an error wrapping ErrInvalidName if s is not a valid name.
func CheckName(s string) error {
	if !Name(s) {
		return fmt.Errorf("%w: %q", ErrInvalidName, clip(s))
	}
	return nil
}

// CheckCommand rejects commands longer than MaxCommandLength characters.
// Content is otherwise opaque; it is never interpreted by a shell.
func CheckCommand(s string) error {
	if n := utf8.RuneCountInString(s); n > MaxCommandLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrCommandTooLong, n, MaxCommandLength)
	}
	return nil
}

// IsValidation reports whether err is one of the validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrCommandTooLong)
}

// SessionOf returns the session part of a target.
func SessionOf(target string) string {
	session, _, _ := strings.Cut(target, ":")
	return session
}

// clip keeps error messages bounded when echoing rejected input.
func clip(s string) string {
	if len(s) <= 64 {
		return s
	}
	return s[:64] + "..."
}
