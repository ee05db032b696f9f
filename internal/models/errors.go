package models

import (
	"fmt"
	"strings"
)

// ErrModelUnavailable signals the provider endpoint could not serve the
// request at all: a transport failure, or a reverse proxy answering with
// plain text instead of the provider's JSON.
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("model provider %s unavailable: %v", e.Provider, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("model provider %s unavailable: %s", e.Provider, e.Body)
	default:
		return fmt.Sprintf("model provider %s unavailable", e.Provider)
	}
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// errorClasses maps SDK error text fragments to the short label the rest of
// the system reports. First match wins; order puts the specific before the
// generic ("404" before connection fragments like "refused").
var errorClasses = []struct {
	label     string
	fragments []string
}{
	{"authentication failed", []string{"401", "403", "unauthorized", "invalid api key", "api key", "forbidden"}},
	{"rate limited", []string{"429", "rate limit", "quota", "too many requests"}},
	{"context too long", []string{"context length", "too many tokens", "max tokens", "token limit"}},
	{"model not found", []string{"model not found", "404", "not found"}},
	{"connection error", []string{"connection", "eof", "timeout", "dial", "refused"}},
}

// HandleError prefixes common SDK failures with a stable, user-reportable
// label while keeping the original error in the chain. Unrecognized errors
// pass through untouched.
func HandleError(err error) error {
	if err == nil {
		return nil
	}
	text := strings.ToLower(err.Error())
	for _, class := range errorClasses {
		for _, frag := range class.fragments {
			if strings.Contains(text, frag) {
				return fmt.Errorf("%s: %w", class.label, err)
			}
		}
	}
	return err
}
