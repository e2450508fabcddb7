package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicate signals a registry no-op: the output already exists.
	ErrDuplicate = errors.New("output image already exists")
	ErrNotFound  = errors.New("not found")
)

type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type TransformError struct {
	Stage string
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// ValidationError describes a rejected variant definition. Position is the
// 1-based place of the variant in the submitted list; 0 refers to the whole
// document.
type ValidationError struct {
	Position int
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Position > 0 {
		fmt.Fprintf(&b, "invalid data in variant No. %d", e.Position)
	} else {
		b.WriteString("invalid variant data")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (errs ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		out = append(out, err)
	}
	return out
}

func VariantNotFound(id string) error {
	return fmt.Errorf("variant %q: %w", id, ErrNotFound)
}

func InputNotFound(id string) error {
	return fmt.Errorf("input image %q: %w", id, ErrNotFound)
}

func OutputNotFound(id string) error {
	return fmt.Errorf("output image %q: %w", id, ErrNotFound)
}
