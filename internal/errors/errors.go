// Package errors wraps the standard errors package with a small builder
// that attaches a component, a category and key/value context to an error.
// Callers use the category to decide how an error surfaces (HTTP status,
// log level, metric label) without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
)

// Category classifies an error by how it should be handled.
type Category string

const (
	CategoryGeneric       Category = "generic"
	CategoryNotFound      Category = "not-found"
	CategoryValidation    Category = "validation"
	CategoryConflict      Category = "conflict"
	CategoryUnauthorized  Category = "unauthorized"
	CategoryDelivery      Category = "delivery"
	CategoryDatabase      Category = "database"
	CategoryQueue         Category = "queue"
	CategoryConfiguration Category = "configuration"
)

// EnhancedError is an error annotated with component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.component == "" {
		return e.Err.Error()
	}
	return e.component + ": " + e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category { return e.category }

// GetContext returns a copy of the attached context.
func (e *EnhancedError) GetContext() map[string]any {
	out := make(map[string]any, len(e.context))
	maps.Copy(out, e.context)
	return out
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder around a formatted message. %w is honoured.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the producing component.
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.category = category
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build returns the assembled error.
func (b *ErrorBuilder) Build() error {
	return &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
}

// NewStd creates a plain error, for sentinel values.
func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

// CategoryOf returns the category of the outermost EnhancedError in the
// chain, or CategoryGeneric.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// IsCategory reports whether any EnhancedError in the chain has the category.
func IsCategory(err error, category Category) bool {
	for err != nil {
		if ee, ok := err.(*EnhancedError); ok && ee.category == category {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				if IsCategory(e, category) {
					return true
				}
			}
			return false
		}
		err = Unwrap(err)
	}
	return false
}

// FieldOf returns the "field" context value of the first EnhancedError in
// the chain, used to report field-level validation problems.
func FieldOf(err error) string {
	var ee *EnhancedError
	if !As(err, &ee) {
		return ""
	}
	if f, ok := ee.context["field"].(string); ok {
		return f
	}
	return ""
}

// Validation is shorthand for a field-level validation error.
func Validation(component, field, format string, args ...any) error {
	return Newf(format, args...).
		Component(component).
		Category(CategoryValidation).
		Context("field", field).
		Build()
}

// NotFound is shorthand for a not-found error on the named resource.
func NotFound(component, resource string, err error) error {
	msg := strings.TrimSpace(resource + " not found")
	if err != nil {
		return Newf("%s: %w", msg, err).Component(component).Category(CategoryNotFound).Build()
	}
	return Newf("%s", msg).Component(component).Category(CategoryNotFound).Build()
}
