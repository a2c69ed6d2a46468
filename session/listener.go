package session

import "fmt"

// Operation names a session operation in an OperationError.
type Operation string

const (
	OpJoin              Operation = "join"
	OpLeave             Operation = "leave"
	OpCreate            Operation = "create"
	OpTerminate         Operation = "terminate"
	OpAuthenticate      Operation = "authenticate"
	OpParticipantList   Operation = "participant list"
	OpNotification      Operation = "notification"
	OpFirstNotification Operation = "first notification"
	OpRemoteAccess      Operation = "remote access"
)

// OperationError reports a failed session operation. Status is the server's
// status code when the failure came from one; Err is set when the response
// could not be decoded.
type OperationError struct {
	Op     Operation
	Status Status
	Reason string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s failed: %s: %v", e.Op, e.Reason, e.Err)
	}

	return fmt.Sprintf("session %s failed: %s", e.Op, e.Reason)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Listener receives session outcomes. All methods are called from the
// client's worker goroutine, one at a time and in the order the responses
// arrived.
type Listener interface {
	OnSessionJoinSuccess(sessionKey string, isPasswordProtected bool)
	OnSessionLeaveSuccess()
	OnSessionAuthenticationSuccess()
	OnSessionCreationSuccess(sessionKey string)
	OnSessionTerminationSuccess(sessionKey string)
	OnSessionOperationFail(err *OperationError)

	// OnSessionParticipantListUpdate replaces the whole participant list.
	OnSessionParticipantListUpdate(participants []string)
	OnSessionNotificationUpdate(notifications []Notification)
	OnSessionFirstNotificationUpdate(notifications []FirstNotification)

	// OnSessionRemoteAccessRequestReceived asks the owner to grant or deny
	// control of input to username.
	OnSessionRemoteAccessRequestReceived(username string)
}
