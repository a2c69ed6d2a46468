package session

import (
	"fmt"

	"github.com/cyberinferno/screenary/pdu"
)

// Every request body starts with the sender's current session id (0 before
// one is assigned). Responses carry their own layouts; a response whose
// status is not StatusOK ends right after the status field.

// JoinRequest asks to join the session identified by SessionKey.
type JoinRequest struct {
	SessionID  uint32
	SessionKey string
}

// Encode lays out the session id followed by the zero-padded key.
//
// Returns:
//   - The request body
//   - ErrInvalidSessionKey if SessionKey is not KeyLength bytes
func (m JoinRequest) Encode() ([]byte, error) {
	if err := validKey(m.SessionKey); err != nil {
		return nil, err
	}

	w := pdu.NewWriter(4 + KeyLength)
	w.PutUint32(m.SessionID)
	w.PutFixedString(m.SessionKey, KeyLength)
	return w.Bytes()
}

// DecodeJoinRequest parses a join request body.
//
// Parameters:
//   - b: The PDU payload
//
// Returns:
//   - The request, with trailing zero padding trimmed from the key
//   - An error wrapping pdu.ErrTruncated if b is shorter than the layout
func DecodeJoinRequest(b []byte) (JoinRequest, error) {
	id, key, err := decodeKeyed(b)
	if err != nil {
		return JoinRequest{}, decodeErr(TypeJoinRequest, err)
	}

	return JoinRequest{SessionID: id, SessionKey: key}, nil
}

func decodeKeyed(b []byte) (uint32, string, error) {
	r := pdu.NewReader(b)
	id, err := r.Uint32()
	if err != nil {
		return 0, "", err
	}

	key, err := r.FixedString(KeyLength)
	if err != nil {
		return id, "", err
	}

	return id, key, nil
}

// LeaveRequest asks to leave the current session.
type LeaveRequest struct {
	SessionID uint32
	Username  string
}

// Encode lays out the session id and the length-prefixed username.
func (m LeaveRequest) Encode() ([]byte, error) {
	w := pdu.NewWriter(4 + 2 + len(m.Username))
	w.PutUint32(m.SessionID)
	w.PutString(m.Username)
	return w.Bytes()
}

// DecodeLeaveRequest parses a leave request body.
func DecodeLeaveRequest(b []byte) (LeaveRequest, error) {
	var m LeaveRequest
	r := pdu.NewReader(b)

	var err error
	if m.SessionID, err = r.Uint32(); err != nil {
		return m, decodeErr(TypeLeaveRequest, err)
	}

	if m.Username, err = r.String(); err != nil {
		return m, decodeErr(TypeLeaveRequest, err)
	}

	return m, nil
}

// Credentials is the body shared by authenticate and create requests: both
// length prefixes come first, then both strings.
type Credentials struct {
	SessionID uint32
	Username  string
	Password  string
}

// AuthRequest authenticates a joined participant.
type AuthRequest Credentials

// CreateRequest creates a new session owned by Username.
type CreateRequest Credentials

// Encode lays out the Credentials body.
func (m AuthRequest) Encode() ([]byte, error) { return Credentials(m).encode() }

// Encode lays out the Credentials body. Clients send SessionID 0.
func (m CreateRequest) Encode() ([]byte, error) { return Credentials(m).encode() }

// DecodeAuthRequest parses an authenticate request body.
func DecodeAuthRequest(b []byte) (AuthRequest, error) {
	c, err := decodeCredentials(b, TypeAuthRequest)
	return AuthRequest(c), err
}

// DecodeCreateRequest parses a create request body.
func DecodeCreateRequest(b []byte) (CreateRequest, error) {
	c, err := decodeCredentials(b, TypeCreateRequest)
	return CreateRequest(c), err
}

func (c Credentials) encode() ([]byte, error) {
	w := pdu.NewWriter(4 + 4 + len(c.Username) + len(c.Password))
	w.PutUint32(c.SessionID)
	w.PutLength(c.Username)
	w.PutLength(c.Password)
	w.PutRaw(c.Username)
	w.PutRaw(c.Password)
	return w.Bytes()
}

func decodeCredentials(b []byte, t uint8) (Credentials, error) {
	var c Credentials
	r := pdu.NewReader(b)

	var err error
	if c.SessionID, err = r.Uint32(); err != nil {
		return c, decodeErr(t, err)
	}

	ulen, err := r.Uint16()
	if err != nil {
		return c, decodeErr(t, err)
	}

	plen, err := r.Uint16()
	if err != nil {
		return c, decodeErr(t, err)
	}

	if c.Username, err = r.Raw(int(ulen)); err != nil {
		return c, decodeErr(t, err)
	}

	if c.Password, err = r.Raw(int(plen)); err != nil {
		return c, decodeErr(t, err)
	}

	return c, nil
}

// TermRequest asks the server to terminate the session identified by
// SessionKey. Only the owner may do so.
type TermRequest struct {
	SessionID  uint32
	SessionKey string
}

// Encode lays out the session id followed by the zero-padded key.
func (m TermRequest) Encode() ([]byte, error) {
	return JoinRequest(m).Encode()
}

// DecodeTermRequest parses a terminate request body.
func DecodeTermRequest(b []byte) (TermRequest, error) {
	id, key, err := decodeKeyed(b)
	if err != nil {
		return TermRequest{}, decodeErr(TypeTermRequest, err)
	}

	return TermRequest{SessionID: id, SessionKey: key}, nil
}

// RemoteAccessRequest asks the session owner for control of input.
type RemoteAccessRequest struct {
	SessionID  uint32
	SessionKey string
	Username   string
}

// TermRemoteAccessRequest gives up previously granted control of input.
type TermRemoteAccessRequest RemoteAccessRequest

// Encode lays out the session id, the zero-padded key and the
// length-prefixed username.
func (m RemoteAccessRequest) Encode() ([]byte, error) {
	return encodeKeyUser(m.SessionID, m.SessionKey, m.Username, nil)
}

// Encode uses the RemoteAccessRequest layout.
func (m TermRemoteAccessRequest) Encode() ([]byte, error) {
	return encodeKeyUser(m.SessionID, m.SessionKey, m.Username, nil)
}

// DecodeRemoteAccessRequest parses a remote access request body.
func DecodeRemoteAccessRequest(b []byte) (RemoteAccessRequest, error) {
	r := pdu.NewReader(b)
	id, key, user, err := decodeKeyUser(r)
	if err != nil {
		return RemoteAccessRequest{}, decodeErr(TypeRemoteAccessRequest, err)
	}

	return RemoteAccessRequest{SessionID: id, SessionKey: key, Username: user}, nil
}

// DecodeTermRemoteAccessRequest parses a terminate remote access request body.
func DecodeTermRemoteAccessRequest(b []byte) (TermRemoteAccessRequest, error) {
	r := pdu.NewReader(b)
	id, key, user, err := decodeKeyUser(r)
	if err != nil {
		return TermRemoteAccessRequest{}, decodeErr(TypeTermRemoteAccessRequest, err)
	}

	return TermRemoteAccessRequest{SessionID: id, SessionKey: key, Username: user}, nil
}

// RemoteAccessPermissionRequest is the owner's answer to a remote access
// request from Username.
type RemoteAccessPermissionRequest struct {
	SessionID  uint32
	SessionKey string
	Username   string
	Permission bool
}

// Encode lays out the RemoteAccessRequest fields followed by the
// permission byte.
func (m RemoteAccessPermissionRequest) Encode() ([]byte, error) {
	return encodeKeyUser(m.SessionID, m.SessionKey, m.Username, &m.Permission)
}

// DecodeRemoteAccessPermissionRequest parses a permission request body. Any
// non-zero permission byte grants access.
func DecodeRemoteAccessPermissionRequest(b []byte) (RemoteAccessPermissionRequest, error) {
	r := pdu.NewReader(b)
	id, key, user, err := decodeKeyUser(r)
	if err != nil {
		return RemoteAccessPermissionRequest{}, decodeErr(TypeRemoteAccessPermissionRequest, err)
	}

	permission, err := r.Bool()
	if err != nil {
		return RemoteAccessPermissionRequest{}, decodeErr(TypeRemoteAccessPermissionRequest, err)
	}

	return RemoteAccessPermissionRequest{SessionID: id, SessionKey: key, Username: user, Permission: permission}, nil
}

func encodeKeyUser(id uint32, key, username string, permission *bool) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	w := pdu.NewWriter(4 + KeyLength + 2 + len(username) + 1)
	w.PutUint32(id)
	w.PutFixedString(key, KeyLength)
	w.PutString(username)
	if permission != nil {
		w.PutBool(*permission)
	}

	return w.Bytes()
}

func decodeKeyUser(r *pdu.Reader) (id uint32, key, username string, err error) {
	if id, err = r.Uint32(); err != nil {
		return
	}

	if key, err = r.FixedString(KeyLength); err != nil {
		return
	}

	username, err = r.String()
	return
}

// JoinResponse answers a join request. SessionKey and Flags are only present
// when Status is StatusOK.
type JoinResponse struct {
	SessionID  uint32
	Status     Status
	SessionKey string
	Flags      uint8
}

// PasswordProtected reports whether the joined session requires
// authentication.
func (m JoinResponse) PasswordProtected() bool {
	return m.Flags&FlagPasswordProtected != 0
}

// Encode writes the session id and status, then the key and flags when the
// status is StatusOK.
func (m JoinResponse) Encode() ([]byte, error) {
	w := pdu.NewWriter(8 + KeyLength + 1)
	w.PutUint32(m.SessionID)
	w.PutUint32(uint32(m.Status))
	if m.Status == StatusOK {
		w.PutFixedString(m.SessionKey, KeyLength)
		w.PutUint8(m.Flags)
	}

	return w.Bytes()
}

// DecodeJoinResponse parses a join response.
//
// Parameters:
//   - b: The PDU payload
//
// Returns:
//   - The response; SessionKey and Flags are zero unless Status is StatusOK
//   - An error wrapping pdu.ErrTruncated if a present field is cut short
func DecodeJoinResponse(b []byte) (JoinResponse, error) {
	var m JoinResponse
	r := pdu.NewReader(b)

	var err error
	if m.SessionID, m.Status, err = decodeStatus(r); err != nil {
		return m, decodeErr(TypeJoinResponse, err)
	}

	if m.Status != StatusOK {
		return m, nil
	}

	if m.SessionKey, err = r.FixedString(KeyLength); err != nil {
		return m, decodeErr(TypeJoinResponse, err)
	}

	if m.Flags, err = r.Uint8(); err != nil {
		return m, decodeErr(TypeJoinResponse, err)
	}

	return m, nil
}

// StatusResponse answers leave and authenticate requests.
type StatusResponse struct {
	SessionID uint32
	Status    Status
}

// Encode writes the session id and status.
func (m StatusResponse) Encode() ([]byte, error) {
	w := pdu.NewWriter(8)
	w.PutUint32(m.SessionID)
	w.PutUint32(uint32(m.Status))
	return w.Bytes()
}

// DecodeStatusResponse parses a leave or authenticate response.
func DecodeStatusResponse(b []byte) (StatusResponse, error) {
	var m StatusResponse
	var err error

	if m.SessionID, m.Status, err = decodeStatus(pdu.NewReader(b)); err != nil {
		return m, fmt.Errorf("decode status response: %w", err)
	}

	return m, nil
}

// KeyResponse answers create and terminate requests. SessionKey is only
// present when Status is StatusOK.
type KeyResponse struct {
	SessionID  uint32
	Status     Status
	SessionKey string
}

// Encode writes the session id and status, then the key when the status
// is StatusOK.
func (m KeyResponse) Encode() ([]byte, error) {
	w := pdu.NewWriter(8 + KeyLength)
	w.PutUint32(m.SessionID)
	w.PutUint32(uint32(m.Status))
	if m.Status == StatusOK {
		w.PutFixedString(m.SessionKey, KeyLength)
	}

	return w.Bytes()
}

// DecodeKeyResponse parses a create or terminate response.
func DecodeKeyResponse(b []byte) (KeyResponse, error) {
	var m KeyResponse
	r := pdu.NewReader(b)

	var err error
	if m.SessionID, m.Status, err = decodeStatus(r); err != nil {
		return m, fmt.Errorf("decode key response: %w", err)
	}

	if m.Status != StatusOK {
		return m, nil
	}

	if m.SessionKey, err = r.FixedString(KeyLength); err != nil {
		return m, fmt.Errorf("decode key response: %w", err)
	}

	return m, nil
}

func decodeStatus(r *pdu.Reader) (uint32, Status, error) {
	id, err := r.Uint32()
	if err != nil {
		return 0, 0, err
	}

	status, err := r.Uint32()
	if err != nil {
		return id, 0, err
	}

	return id, Status(status), nil
}

// ParticipantList is the full, ordered list of usernames in a session.
// Duplicates are kept.
type ParticipantList struct {
	Usernames []string
}

// Encode writes the usernames as a one-field record list.
func (m ParticipantList) Encode() ([]byte, error) {
	records := make([][]string, len(m.Usernames))
	for i, u := range m.Usernames {
		records[i] = []string{u}
	}

	w := pdu.NewWriter(2)
	w.PutStringList(records)
	return w.Bytes()
}

// DecodeParticipantList parses a participant list, keeping wire order.
func DecodeParticipantList(b []byte) (ParticipantList, error) {
	records, err := pdu.NewReader(b).StringList(1)
	if err != nil {
		return ParticipantList{}, decodeErr(TypeParticipantsResponse, err)
	}

	usernames := make([]string, len(records))
	for i, rec := range records {
		usernames[i] = rec[0]
	}

	return ParticipantList{Usernames: usernames}, nil
}

// Notification is one record of a notification update.
type Notification struct {
	Type     string
	Username string
}

// FirstNotification is one record of the update sent to a user who just
// joined; Sender names the client the event originated from.
type FirstNotification struct {
	Type     string
	Username string
	Sender   string
}

// NotificationUpdate carries notification records in server order.
type NotificationUpdate struct {
	Notifications []Notification
}

// Encode writes one (type, username) record per notification.
func (m NotificationUpdate) Encode() ([]byte, error) {
	records := make([][]string, len(m.Notifications))
	for i, n := range m.Notifications {
		records[i] = []string{n.Type, n.Username}
	}

	w := pdu.NewWriter(2)
	w.PutStringList(records)
	return w.Bytes()
}

// DecodeNotificationUpdate parses every record of a notification update.
//
// Parameters:
//   - b: The PDU payload, starting with the u16 total length
//
// Returns:
//   - All records in wire order
//   - An error wrapping pdu.ErrMalformedList or pdu.ErrTruncated
func DecodeNotificationUpdate(b []byte) (NotificationUpdate, error) {
	records, err := pdu.NewReader(b).StringList(2)
	if err != nil {
		return NotificationUpdate{}, decodeErr(TypeNotificationResponse, err)
	}

	out := make([]Notification, len(records))
	for i, rec := range records {
		out[i] = Notification{Type: rec[0], Username: rec[1]}
	}

	return NotificationUpdate{Notifications: out}, nil
}

// FirstNotificationUpdate carries first-notification records in server
// order.
type FirstNotificationUpdate struct {
	Notifications []FirstNotification
}

// Encode writes one (type, username, sender) record per notification.
func (m FirstNotificationUpdate) Encode() ([]byte, error) {
	records := make([][]string, len(m.Notifications))
	for i, n := range m.Notifications {
		records[i] = []string{n.Type, n.Username, n.Sender}
	}

	w := pdu.NewWriter(2)
	w.PutStringList(records)
	return w.Bytes()
}

// DecodeFirstNotificationUpdate parses every record of a first-notification
// update.
func DecodeFirstNotificationUpdate(b []byte) (FirstNotificationUpdate, error) {
	records, err := pdu.NewReader(b).StringList(3)
	if err != nil {
		return FirstNotificationUpdate{}, decodeErr(TypeFirstNotificationResponse, err)
	}

	out := make([]FirstNotification, len(records))
	for i, rec := range records {
		out[i] = FirstNotification{Type: rec[0], Username: rec[1], Sender: rec[2]}
	}

	return FirstNotificationUpdate{Notifications: out}, nil
}

// RemoteAccessNotice tells the session owner that Username requests control
// of input.
type RemoteAccessNotice struct {
	Username string
}

// Encode writes the length-prefixed username.
func (m RemoteAccessNotice) Encode() ([]byte, error) {
	w := pdu.NewWriter(2 + len(m.Username))
	w.PutString(m.Username)
	return w.Bytes()
}

// DecodeRemoteAccessNotice parses a remote access notice.
func DecodeRemoteAccessNotice(b []byte) (RemoteAccessNotice, error) {
	username, err := pdu.NewReader(b).String()
	if err != nil {
		return RemoteAccessNotice{}, decodeErr(TypeRemoteAccessResponse, err)
	}

	return RemoteAccessNotice{Username: username}, nil
}

func decodeErr(t uint8, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("decode %s: %w", TypeName(t), err)
}
