package auth

import (
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies an authentication failure. The values are stable and
// travel over the wire.
type Code string

const (
	CodeInvalidCredential   Code = "auth/invalid-credential"
	CodeUserDisabled        Code = "auth/user-disabled"
	CodeTooManyRequests     Code = "auth/too-many-requests"
	CodeOperationNotAllowed Code = "auth/operation-not-allowed"
	CodeEmailAlreadyInUse   Code = "auth/email-already-in-use"
	CodeWeakPassword        Code = "auth/weak-password"
	CodeInvalidEmail        Code = "auth/invalid-email"
	CodeInvalidArgument     Code = "auth/invalid-argument"
)

const errorDomain = "orbital.auth"

var grpcCodes = map[Code]codes.Code{
	CodeInvalidCredential:   codes.Unauthenticated,
	CodeUserDisabled:        codes.PermissionDenied,
	CodeTooManyRequests:     codes.ResourceExhausted,
	CodeOperationNotAllowed: codes.FailedPrecondition,
	CodeEmailAlreadyInUse:   codes.AlreadyExists,
	CodeWeakPassword:        codes.InvalidArgument,
	CodeInvalidEmail:        codes.InvalidArgument,
	CodeInvalidArgument:     codes.InvalidArgument,
}

// Error is an authentication failure with a stable code. Field names the
// form field an invalid-argument error refers to.
type Error struct {
	Code    Code
	Field   string
	Message string
}

// NewError returns an *Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// InvalidArgument returns an auth/invalid-argument error for one field.
func InvalidArgument(field, msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Field: field, Message: msg}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Fields returns the form fields the error should be shown on. An empty
// result means the error belongs in a general notification instead.
func (e *Error) Fields() []string {
	switch e.Code {
	case CodeInvalidCredential:
		return []string{"email", "password"}
	case CodeUserDisabled, CodeEmailAlreadyInUse, CodeInvalidEmail:
		return []string{"email"}
	case CodeWeakPassword:
		return []string{"password"}
	case CodeInvalidArgument:
		if e.Field != "" {
			return []string{e.Field}
		}
	}
	return nil
}

// UserMessage is the text shown to a person for this error.
func (e *Error) UserMessage() string {
	switch e.Code {
	case CodeInvalidCredential:
		return "Invalid email or password."
	case CodeUserDisabled:
		return "Your account has been disabled. Please contact support."
	case CodeTooManyRequests:
		return "Too many login attempts. Please try again later."
	case CodeOperationNotAllowed:
		return "This sign-in method is not enabled. Please contact support."
	case CodeEmailAlreadyInUse:
		return "This email is already in use. Please sign in instead."
	case CodeWeakPassword:
		return "Password is too weak. Please choose a stronger one."
	}
	if e.Message != "" {
		return e.Message
	}
	return "An unexpected error occurred."
}

// GRPCStatus lets status.FromError and status.Convert see the error. The
// code and field travel as an ErrorInfo detail.
func (e *Error) GRPCStatus() *status.Status {
	c, ok := grpcCodes[e.Code]
	if !ok {
		c = codes.Unknown
	}
	st := status.New(c, e.Error())
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: errorDomain}
	if e.Field != "" {
		info.Metadata = map[string]string{"field": e.Field}
	}
	if withDetails, err := st.WithDetails(info); err == nil {
		return withDetails
	}
	return st
}

// FromError recovers an *Error from err, which may be a local *Error or a
// gRPC status produced by GRPCStatus. It returns nil when err carries no
// auth code.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		code := Code(info.GetReason())
		return &Error{
			Code:    code,
			Field:   info.GetMetadata()["field"],
			Message: strings.TrimPrefix(strings.TrimPrefix(st.Message(), string(code)), ": "),
		}
	}
	// a bare status whose message starts with a code, e.g. from a proxy
	msg := st.Message()
	if strings.HasPrefix(msg, "auth/") {
		code, rest, _ := strings.Cut(msg, ": ")
		return &Error{Code: Code(code), Message: rest}
	}
	return nil
}
