package queue

import (
	"errors"
	"fmt"
	"strings"
)

// Separator splits an identifier from its message on an error ledger line.
const Separator = "\t"

var (
	// ErrEmptyRecord is returned for a blank line or an empty identifier.
	ErrEmptyRecord = errors.New("empty record")
	// ErrBadIdentifier is returned for an identifier that cannot be stored on one line.
	ErrBadIdentifier = errors.New("identifier contains a separator or line break")
)

// EncodeRecord renders one ledger or queue line, without the trailing
// newline. Line breaks and tabs in msg are flattened to spaces.
func EncodeRecord(isbn, msg string) (string, error) {
	if strings.TrimSpace(isbn) == "" {
		return "", ErrEmptyRecord
	}
	if strings.ContainsAny(isbn, "\t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrBadIdentifier, isbn)
	}
	if msg == "" {
		return isbn, nil
	}
	return isbn + Separator + flatten(msg), nil
}

// DecodeRecord parses a line written by EncodeRecord.
func DecodeRecord(line string) (isbn, msg string, err error) {
	line = strings.TrimRight(line, "\r\n")
	isbn, msg, _ = strings.Cut(line, Separator)
	if strings.TrimSpace(isbn) == "" {
		return "", "", ErrEmptyRecord
	}
	return isbn, msg, nil
}

func flatten(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\r', '\n':
			return ' '
		}
		return r
	}, s)
}
