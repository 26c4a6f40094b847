package service

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/calendarhub/intake/internal/domain"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNoItems      = errors.New("at least one item required")
	ErrTooManyItems = fmt.Errorf("maximum of %d allowed", domain.MaxItemsPerSubmission)
)

// ValidationError carries per-field messages keyed by JSON path, for example
// "email" or "events[2].title". errors.Is matches ErrValidation and, for
// cardinality failures, ErrNoItems or ErrTooManyItems.
type ValidationError struct {
	Message string
	Fields  map[string][]string
	cause   error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return e.Message + ": " + strings.Join(keys, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (e.cause != nil && target == e.cause)
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Email checks a single address, as used by the newsletter signup.
func (v *Validator) Email(email string) error {
	if strings.TrimSpace(email) == "" {
		verr := &ValidationError{Message: "Email is required"}
		verr.add("email", fieldMessage("required", ""))
		return verr
	}
	if err := v.v.Var(email, "email"); err != nil {
		verr := &ValidationError{Message: "Invalid email address"}
		verr.add("email", fieldMessage("email", ""))
		return verr
	}
	return nil
}

func (v *Validator) cardinality(n int) error {
	switch {
	case n == 0:
		return &ValidationError{Message: ErrNoItems.Error(), cause: ErrNoItems}
	case n > domain.MaxItemsPerSubmission:
		return &ValidationError{Message: ErrTooManyItems.Error(), cause: ErrTooManyItems}
	}
	return nil
}

// collect validates s and records failures under prefix.
func (v *Validator) collect(verr *ValidationError, prefix string, s any) {
	err := v.v.Struct(s)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add(strings.TrimSuffix(prefix, "."), err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.add(prefix+fe.Field(), fieldMessage(fe.Tag(), fe.Param()))
	}
}

func (v *Validator) finish(verr *ValidationError) error {
	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

// Events validates the submitter and every event before anything is stored.
func (v *Validator) Events(submitter domain.Submitter, events []domain.Event) error {
	verr := &ValidationError{Message: "Validation failed"}
	v.collect(verr, "", submitter)
	if err := v.finish(verr); err != nil {
		return err
	}
	if err := v.cardinality(len(events)); err != nil {
		return err
	}
	verr = &ValidationError{Message: "Event validation failed"}
	for i, ev := range events {
		v.collect(verr, fmt.Sprintf("events[%d].", i), ev)
	}
	return v.finish(verr)
}

func (v *Validator) MeetupGroups(submitter domain.Submitter, groups []domain.MeetupGroup) error {
	verr := &ValidationError{Message: "Validation failed"}
	v.collect(verr, "", submitter)
	if err := v.finish(verr); err != nil {
		return err
	}
	if err := v.cardinality(len(groups)); err != nil {
		return err
	}
	verr = &ValidationError{Message: "Group validation failed"}
	for i, g := range groups {
		v.collect(verr, fmt.Sprintf("groups[%d].", i), g)
	}
	return v.finish(verr)
}

func (v *Validator) ICalFeed(submitter domain.Submitter, feed domain.ICalFeed) error {
	verr := &ValidationError{Message: "Validation failed"}
	v.collect(verr, "", submitter)
	v.collect(verr, "", feed)
	return v.finish(verr)
}

func fieldMessage(tag, param string) string {
	switch tag {
	case "required":
		return "This field is required."
	case "min":
		return "Field must be at least " + param + " characters long."
	case "max":
		return "Field cannot be longer than " + param + " characters."
	case "url":
		return "Invalid URL."
	case "email":
		return "Invalid email address."
	case "datetime":
		return "Not a valid date value."
	default:
		return "Invalid value."
	}
}
