package errors

import "fmt"

// Configuration reports a required session binding that was missing at call
// time. It signals a programming error in the host application.
func Configuration(binding, hint string) *Error {
	err := build(ErrCodeConfiguration, fmt.Sprintf("%s must be bound before visiting", binding), nil,
		map[string]any{"binding": binding})
	if hint != "" {
		err.Context["hint"] = hint
	}
	return err
}

// ReservedName reports an endpoint registration under the built-in name.
func ReservedName(name string) *Error {
	return build(ErrCodeReservedName, fmt.Sprintf("%s is a reserved endpoint name", name), nil,
		map[string]any{"name": name})
}

// Navigation describes a renderer-level load or network failure.
func Navigation(code int, description, url string) *Error {
	return build(ErrCodeNavigation, description, nil, map[string]any{"code": code, "url": url})
}

// ProtocolMismatch describes a page that loaded without the in-page
// navigation library.
func ProtocolMismatch(location string) *Error {
	return build(ErrCodeProtocolMismatch, "page does not provide the navigation library", nil,
		map[string]any{"location": location})
}

// StaleMessage describes an inbound message for a superseded visit. It is
// only used for logging; stale messages are never returned to callers.
func StaleMessage(method, visitID, currentVisitID string) *Error {
	return &Error{
		Code:    ErrCodeStaleMessage,
		Message: fmt.Sprintf("%s ignored for stale visit", method),
		Context: map[string]any{"visit_id": visitID, "current_visit_id": currentVisitID},
	}
}

// IsConfiguration reports whether err is a missing-binding error.
func IsConfiguration(err error) bool { return IsCode(err, ErrCodeConfiguration) }

// IsReservedName reports whether err is a reserved endpoint name error.
func IsReservedName(err error) bool { return IsCode(err, ErrCodeReservedName) }

// IsNavigation reports whether err is a renderer navigation failure.
func IsNavigation(err error) bool { return IsCode(err, ErrCodeNavigation) }

// IsProtocolMismatch reports whether err is a missing-library failure.
func IsProtocolMismatch(err error) bool { return IsCode(err, ErrCodeProtocolMismatch) }
