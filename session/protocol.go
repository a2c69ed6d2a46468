// Package session implements the session channel: the request and response
// messages exchanged on channel 0, and a Client that sends requests, decodes
// responses on its own worker and reports the outcomes to a Listener.
package session

import (
	"errors"
	"fmt"
)

// KeyLength is the width of a session key on the wire.
const KeyLength = 12

// Request PDU types.
const (
	TypeJoinRequest                   uint8 = 0x01
	TypeLeaveRequest                  uint8 = 0x02
	TypeCreateRequest                 uint8 = 0x03
	TypeTermRequest                   uint8 = 0x04
	TypeAuthRequest                   uint8 = 0x05
	TypeRemoteAccessRequest           uint8 = 0x06
	TypeRemoteAccessPermissionRequest uint8 = 0x07
	TypeTermRemoteAccessRequest       uint8 = 0x08
)

// Response and notification PDU types.
const (
	TypeJoinResponse              uint8 = 0x81
	TypeLeaveResponse             uint8 = 0x82
	TypeCreateResponse            uint8 = 0x83
	TypeTermResponse              uint8 = 0x84
	TypeAuthResponse              uint8 = 0x85
	TypeParticipantsResponse      uint8 = 0x86
	TypeNotificationResponse      uint8 = 0x87
	TypeFirstNotificationResponse uint8 = 0x88
	TypeRemoteAccessResponse      uint8 = 0x89
)

// FlagPasswordProtected is set in a join response's flags when the session
// requires authentication.
const FlagPasswordProtected uint8 = 0x01

// Status is the result code carried by responses. Zero is success.
type Status uint32

const (
	StatusOK Status = iota
	StatusNotFound
	StatusBadCredentials
	StatusDuplicateUser
	StatusNotOwner
	StatusIDMismatch
)

// String returns a short description of the status code.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "session not found"
	case StatusBadCredentials:
		return "bad credentials"
	case StatusDuplicateUser:
		return "username already in use"
	case StatusNotOwner:
		return "not the session owner"
	case StatusIDMismatch:
		return "session id mismatch"
	default:
		return fmt.Sprintf("status %d", uint32(s))
	}
}

// Notification kinds sent by the server.
const (
	NotificationJoined              = "joined"
	NotificationLeft                = "left"
	NotificationRemoteAccessGranted = "remote access granted"
	NotificationRemoteAccessDenied  = "remote access denied"
	NotificationRemoteAccessRevoked = "remote access terminated"
	NotificationSessionTerminated   = "session terminated"
)

var (
	ErrInvalidSessionKey = errors.New("session: key must be exactly 12 characters")
	ErrUnknownType       = errors.New("session: unknown pdu type")
)

// TypeName returns a readable name for a session PDU type.
func TypeName(t uint8) string {
	switch t {
	case TypeJoinRequest:
		return "join request"
	case TypeLeaveRequest:
		return "leave request"
	case TypeCreateRequest:
		return "create request"
	case TypeTermRequest:
		return "terminate request"
	case TypeAuthRequest:
		return "auth request"
	case TypeRemoteAccessRequest:
		return "remote access request"
	case TypeRemoteAccessPermissionRequest:
		return "remote access permission request"
	case TypeTermRemoteAccessRequest:
		return "terminate remote access request"
	case TypeJoinResponse:
		return "join response"
	case TypeLeaveResponse:
		return "leave response"
	case TypeCreateResponse:
		return "create response"
	case TypeTermResponse:
		return "terminate response"
	case TypeAuthResponse:
		return "auth response"
	case TypeParticipantsResponse:
		return "participant list"
	case TypeNotificationResponse:
		return "notification"
	case TypeFirstNotificationResponse:
		return "first notification"
	case TypeRemoteAccessResponse:
		return "remote access notice"
	default:
		return fmt.Sprintf("type 0x%02x", t)
	}
}

func validKey(key string) error {
	if len(key) != KeyLength {
		return fmt.Errorf("%q: %w", key, ErrInvalidSessionKey)
	}

	return nil
}
