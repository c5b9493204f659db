// Package input turns the operator's identifier list into an ordered slice
// of normalized ISBNs.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// ErrNoIdentifiers is returned when a list yields nothing to process.
var ErrNoIdentifiers = errors.New("no identifiers supplied")

// ParseList reads newline, comma or semicolon separated identifiers. Blank
// lines and lines starting with '#' are skipped. Order is kept and
// duplicates are left in; the queue removes them.
func ParseList(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, field := range strings.FieldsFunc(line, isDelimiter) {
			if id := Normalize(field); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading identifier list: %w", err)
	}
	return ids, nil
}

// ParseFile reads a list from path. "~" is expanded.
func ParseFile(path string) ([]string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve path '%s': %w", path, err)
	}
	file, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open identifier list '%s': %w", path, err)
	}
	defer file.Close()
	return ParseList(file)
}

// ParseArgs treats every argument as a list of its own, so a single
// command-line value may itself be comma separated.
func ParseArgs(args []string) ([]string, error) {
	var ids []string
	for _, a := range args {
		parsed, err := ParseList(strings.NewReader(a))
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed...)
	}
	return ids, nil
}

func isDelimiter(r rune) bool {
	return r == ',' || r == ';' || r == '\n' || r == '\r'
}

// Normalize strips spaces and hyphens and upper-cases a trailing check
// character "x".
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case ' ', '-', '\t', ' ':
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if strings.HasSuffix(out, "x") {
		out = out[:len(out)-1] + "X"
	}
	return out
}

// ValidISBN reports whether s is a well-formed ISBN-10 or ISBN-13 with a
// correct check digit. Invalid values are still processed; the catalogue
// has the final say.
func ValidISBN(s string) bool {
	switch len(s) {
	case 10:
		sum := 0
		for i := 0; i < 10; i++ {
			c := s[i]
			var v int
			switch {
			case c >= '0' && c <= '9':
				v = int(c - '0')
			case c == 'X' && i == 9:
				v = 10
			default:
				return false
			}
			sum += v * (10 - i)
		}
		return sum%11 == 0
	case 13:
		sum := 0
		for i := 0; i < 13; i++ {
			c := s[i]
			if c < '0' || c > '9' {
				return false
			}
			v := int(c - '0')
			if i%2 == 1 {
				v *= 3
			}
			sum += v
		}
		return sum%10 == 0
	}
	return false
}
