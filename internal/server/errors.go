package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrRoomNotFound       = errors.New("room not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrMissingPassword    = errors.New("room has no password configured")
	ErrPasswordRequired   = errors.New("password required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrNotAMember         = errors.New("not a member of this room")
	ErrUnidentified       = errors.New("announce online before sending events")
	ErrTimeout            = errors.New("request timed out")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidatePayload checks the validate struct tags of v and reports every
// failing field as ErrInvalidPayload.
func ValidatePayload(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(fields, ", "))
}

// deadlineError turns a failure caused by ctx expiring into ErrTimeout.
// Drivers do not always wrap the context error, so ctx is consulted too.
func deadlineError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
