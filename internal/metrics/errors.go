package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/torosent/pipefire/internal/errs"
)

// statusError is implemented by errors that carry an HTTP status code.
type statusError interface {
	error
	Status() int
}

// FriendlyErrorName returns a short human-friendly label for err, used as the key of
// the error breakdown. Taxonomy errors are labelled "<kind>: <sentinel>", e.g.
// "connection: idle timeout".
func FriendlyErrorName(err error) string {
	if err == nil {
		return "Unknown error"
	}

	var se statusError
	if errors.As(err, &se) {
		return fmt.Sprintf("HTTP %d", se.Status())
	}

	var taxed *errs.Error
	if errors.As(err, &taxed) {
		return taxed.Kind().String() + ": " + taxed.Err.Error()
	}
	if kind := errs.KindOf(err); kind != errs.KindUnknown {
		return kind.String() + ": " + err.Error()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Context deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "Context canceled"
	}

	return typeLabel(fmt.Sprintf("%T", err))
}

// typeLabel turns a Go type name such as "*net.OpError" into "Op Error (net)".
func typeLabel(typeName string) string {
	cleaned := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if idx := strings.LastIndex(cleaned, "/"); idx != -1 {
		cleaned = cleaned[idx+1:]
	}

	pkg := ""
	name := cleaned
	if idx := strings.Index(name, "."); idx != -1 {
		pkg = name[:idx]
		name = name[idx+1:]
	}

	pretty := humanizeTypeName(name)
	if pretty == "" {
		pretty = name
	}
	if strings.EqualFold(pkg, "errors") {
		return "Error"
	}
	if pkg != "" && pkg != "main" {
		return fmt.Sprintf("%s (%s)", pretty, pkg)
	}
	return pretty
}

func humanizeTypeName(name string) string {
	if name == "" {
		return ""
	}

	var words []string
	var current []rune
	runes := []rune(name)

	appendWord := func() {
		if len(current) == 0 {
			return
		}
		word := string(current)
		if isAllUpper(word) {
			words = append(words, word)
		} else {
			words = append(words, capitalize(word))
		}
		current = current[:0]
	}

	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsUpper(r) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower)) {
				appendWord()
			} else if unicode.IsDigit(r) && !unicode.IsDigit(prev) {
				appendWord()
			}
		}
		current = append(current, r)
	}
	appendWord()

	return strings.Join(words, " ")
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	runes := []rune(lower)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
