// Package services defines the business logic for accounts, presence, message
// delivery, and media uploads. This file centralizes service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer (and by the websocket gateway for error frames).
package services

import "errors"

// Identity and account errors.
var (
	// ErrNotAuthenticated indicates a missing, invalid, or unknown caller identity.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUsernameTaken is returned by Signup when the username already exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned by Login for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidUsername is returned when a username fails normalization rules.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrWeakPassword is returned when a password is too short or too long.
	ErrWeakPassword = errors.New("password does not meet requirements")
)

// Messaging errors.
var (
	// ErrInvalidRecipient is returned when the recipient is empty or equal to the sender.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrUnknownRecipient is returned when the recipient does not exist.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrEmptyMessage is returned when a message has neither content nor media.
	ErrEmptyMessage = errors.New("message has no content or media")

	// ErrTooLong is returned when content exceeds the configured rune limit.
	ErrTooLong = errors.New("content too long")

	// ErrInvalidMedia is returned for a malformed media descriptor.
	ErrInvalidMedia = errors.New("invalid media descriptor")

	// ErrNotParticipant is returned when the caller asks for a conversation
	// they are not part of.
	ErrNotParticipant = errors.New("caller is not a participant")

	// ErrMessageNotFound indicates the message does not exist or is not
	// visible to the caller.
	ErrMessageNotFound = errors.New("message not found")

	// ErrPersistence wraps store failures. Callers see it via errors.Is; the
	// underlying cause is kept in the message.
	ErrPersistence = errors.New("persistence failure")

	// ErrDeliveryFailed marks a failed best-effort push. It is logged and
	// counted, never returned from Send.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Media errors.
var (
	// ErrUnsupportedMedia is returned for uploads outside the allowed types.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrMediaTooLarge is returned when an upload exceeds the size limit.
	ErrMediaTooLarge = errors.New("media too large")

	// ErrMediaNotFound is returned for unknown storage locators.
	ErrMediaNotFound = errors.New("media not found")
)
