package session

import (
	"fmt"
	"sync/atomic"

	"github.com/cyberinferno/screenary/channel"
	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/metrics"
	"github.com/cyberinferno/screenary/pdu"
)

// Sender writes a payload to the connection as one fragment series.
// *transport.Connection implements it.
type Sender interface {
	Send(payload []byte, channelID uint16, pduType uint8) error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrNop(l)
	}
}

// WithMetrics records worker queue metrics.
func WithMetrics(m *metrics.Worker) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client is the session channel. Requests are encoded and sent on the
// caller's goroutine. Responses are queued by OnRecv and decoded in arrival
// order on a dedicated worker, which is also the only goroutine that calls
// the Listener.
//
// The session id is the only state kept between messages. It is assigned by
// a successful join or create response, replaced by the next one, and checked
// against the id carried by leave, authenticate and terminate responses.
type Client struct {
	sender    Sender
	listener  Listener
	logger    logger.Logger
	metrics   *metrics.Worker
	sessionID atomic.Uint32
	worker    *channel.Worker
}

// NewClient creates a session client that sends through sender and reports
// to listener. Register it with a dispatcher so OnOpen starts its worker.
func NewClient(sender Sender, listener Listener, opts ...Option) *Client {
	c := &Client{
		sender:   sender,
		listener: listener,
		logger:   logger.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(logger.Field{Key: "component", Value: "session"})
	c.worker = channel.NewWorker(pdu.ChannelSession, c.process,
		channel.WithLogger(c.logger),
		channel.WithMetrics(c.metrics))

	return c
}

// SessionID returns the id held by the client, or 0 before a join or create
// has succeeded.
func (c *Client) SessionID() uint32 {
	return c.sessionID.Load()
}

// ChannelID returns the session channel id.
func (c *Client) ChannelID() uint16 {
	return pdu.ChannelSession
}

// OnRecv queues a received PDU for the worker. It never blocks on
// processing.
func (c *Client) OnRecv(payload []byte, pduType uint8) error {
	return c.worker.Enqueue(pdu.PDU{Payload: payload, ChannelID: pdu.ChannelSession, Type: pduType})
}

// OnOpen starts the worker.
func (c *Client) OnOpen() {
	c.worker.Start()
}

// OnClose stops the worker. Queued responses that were not processed yet
// are dropped.
func (c *Client) OnClose() {
	c.worker.Stop()
}

// Done is closed once the worker has exited.
func (c *Client) Done() <-chan struct{} {
	return c.worker.Done()
}

// SendJoinReq asks to join the session identified by sessionKey. The request
// carries session id 0 since the id is not known yet.
func (c *Client) SendJoinReq(sessionKey string) error {
	return c.send(TypeJoinRequest, JoinRequest{SessionKey: sessionKey})
}

// SendLeaveReq leaves the current session as username.
func (c *Client) SendLeaveReq(username string) error {
	return c.send(TypeLeaveRequest, LeaveRequest{SessionID: c.SessionID(), Username: username})
}

// SendAuthReq authenticates username in the current session.
func (c *Client) SendAuthReq(username, password string) error {
	return c.send(TypeAuthRequest, AuthRequest{SessionID: c.SessionID(), Username: username, Password: password})
}

// SendCreateReq creates a new session owned by username. An empty password
// creates a session that does not require authentication.
func (c *Client) SendCreateReq(username, password string) error {
	return c.send(TypeCreateRequest, CreateRequest{Username: username, Password: password})
}

// SendTermReq terminates the session identified by sessionKey.
func (c *Client) SendTermReq(sessionKey string) error {
	return c.send(TypeTermRequest, TermRequest{SessionID: c.SessionID(), SessionKey: sessionKey})
}

// SendRemoteAccessReq asks the session owner for control of input.
func (c *Client) SendRemoteAccessReq(sessionKey, username string) error {
	return c.send(TypeRemoteAccessRequest, RemoteAccessRequest{
		SessionID:  c.SessionID(),
		SessionKey: sessionKey,
		Username:   username,
	})
}

// SendRemoteAccessPermissionReq grants or denies a remote access request
// made by username.
func (c *Client) SendRemoteAccessPermissionReq(sessionKey, username string, permission bool) error {
	return c.send(TypeRemoteAccessPermissionRequest, RemoteAccessPermissionRequest{
		SessionID:  c.SessionID(),
		SessionKey: sessionKey,
		Username:   username,
		Permission: permission,
	})
}

// SendTermRemoteAccessReq ends remote access held by username.
func (c *Client) SendTermRemoteAccessReq(sessionKey, username string) error {
	return c.send(TypeTermRemoteAccessRequest, TermRemoteAccessRequest{
		SessionID:  c.SessionID(),
		SessionKey: sessionKey,
		Username:   username,
	})
}

type encoder interface {
	Encode() ([]byte, error)
}

func (c *Client) send(pduType uint8, msg encoder) error {
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", TypeName(pduType), err)
	}

	if err := c.sender.Send(payload, pdu.ChannelSession, pduType); err != nil {
		return fmt.Errorf("send %s: %w", TypeName(pduType), err)
	}

	c.logger.Debug("request sent",
		logger.Field{Key: "type", Value: TypeName(pduType)},
		logger.Field{Key: "session_id", Value: c.SessionID()})

	return nil
}

func (c *Client) process(p pdu.PDU) {
	switch p.Type {
	case TypeJoinResponse:
		c.recvJoinRsp(p.Payload)
	case TypeLeaveResponse:
		c.recvLeaveRsp(p.Payload)
	case TypeCreateResponse:
		c.recvCreateRsp(p.Payload)
	case TypeTermResponse:
		c.recvTermRsp(p.Payload)
	case TypeAuthResponse:
		c.recvAuthRsp(p.Payload)
	case TypeParticipantsResponse:
		c.recvParticipantList(p.Payload)
	case TypeNotificationResponse:
		c.recvNotificationUpdate(p.Payload)
	case TypeFirstNotificationResponse:
		c.recvFirstNotificationUpdate(p.Payload)
	case TypeRemoteAccessResponse:
		c.recvRemoteAccessNotice(p.Payload)
	default:
		c.logger.Debug("ignoring pdu", logger.Field{Key: "type", Value: TypeName(p.Type)})
	}
}

func (c *Client) recvJoinRsp(payload []byte) {
	m, err := DecodeJoinResponse(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpJoin, Reason: "malformed response", Err: err})
		return
	}

	if m.Status != StatusOK {
		c.fail(&OperationError{Op: OpJoin, Status: m.Status, Reason: m.Status.String()})
		return
	}

	c.sessionID.Store(m.SessionID)
	c.logger.Info("joined session", logger.Field{Key: "session_id", Value: m.SessionID})
	c.listener.OnSessionJoinSuccess(m.SessionKey, m.PasswordProtected())
}

func (c *Client) recvLeaveRsp(payload []byte) {
	m, err := DecodeStatusResponse(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpLeave, Reason: "malformed response", Err: err})
		return
	}

	if opErr := c.checkStatus(OpLeave, m.SessionID, m.Status); opErr != nil {
		c.fail(opErr)
		return
	}

	c.listener.OnSessionLeaveSuccess()
}

func (c *Client) recvAuthRsp(payload []byte) {
	m, err := DecodeStatusResponse(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpAuthenticate, Reason: "malformed response", Err: err})
		return
	}

	if m.Status != StatusOK {
		c.fail(&OperationError{
			Op:     OpAuthenticate,
			Status: m.Status,
			Reason: "bad credentials: the password is invalid or the username already exists",
		})
		return
	}

	if opErr := c.checkStatus(OpAuthenticate, m.SessionID, m.Status); opErr != nil {
		c.fail(opErr)
		return
	}

	c.listener.OnSessionAuthenticationSuccess()
}

func (c *Client) recvCreateRsp(payload []byte) {
	m, err := DecodeKeyResponse(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpCreate, Reason: "malformed response", Err: err})
		return
	}

	if m.Status != StatusOK {
		c.fail(&OperationError{Op: OpCreate, Status: m.Status, Reason: m.Status.String()})
		return
	}

	c.sessionID.Store(m.SessionID)
	c.logger.Info("created session", logger.Field{Key: "session_id", Value: m.SessionID})
	c.listener.OnSessionCreationSuccess(m.SessionKey)
}

func (c *Client) recvTermRsp(payload []byte) {
	m, err := DecodeKeyResponse(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpTerminate, Reason: "malformed response", Err: err})
		return
	}

	if opErr := c.checkStatus(OpTerminate, m.SessionID, m.Status); opErr != nil {
		c.fail(opErr)
		return
	}

	c.listener.OnSessionTerminationSuccess(m.SessionKey)
}

func (c *Client) recvParticipantList(payload []byte) {
	m, err := DecodeParticipantList(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpParticipantList, Reason: "malformed list", Err: err})
		return
	}

	c.listener.OnSessionParticipantListUpdate(m.Usernames)
}

func (c *Client) recvNotificationUpdate(payload []byte) {
	m, err := DecodeNotificationUpdate(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpNotification, Reason: "malformed list", Err: err})
		return
	}

	c.listener.OnSessionNotificationUpdate(m.Notifications)
}

func (c *Client) recvFirstNotificationUpdate(payload []byte) {
	m, err := DecodeFirstNotificationUpdate(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpFirstNotification, Reason: "malformed list", Err: err})
		return
	}

	c.listener.OnSessionFirstNotificationUpdate(m.Notifications)
}

func (c *Client) recvRemoteAccessNotice(payload []byte) {
	m, err := DecodeRemoteAccessNotice(payload)
	if err != nil {
		c.fail(&OperationError{Op: OpRemoteAccess, Reason: "malformed notice", Err: err})
		return
	}

	c.listener.OnSessionRemoteAccessRequestReceived(m.Username)
}

// checkStatus applies the rule shared by responses to requests made inside a
// session: success needs a zero status and the id the client holds.
func (c *Client) checkStatus(op Operation, id uint32, status Status) *OperationError {
	if status != StatusOK {
		return &OperationError{Op: op, Status: status, Reason: status.String()}
	}

	if held := c.SessionID(); id != held {
		return &OperationError{
			Op:     op,
			Status: StatusIDMismatch,
			Reason: fmt.Sprintf("session id mismatch: response carries %d, client holds %d", id, held),
		}
	}

	return nil
}

func (c *Client) fail(err *OperationError) {
	c.logger.Info("session operation failed",
		logger.Field{Key: "op", Value: string(err.Op)},
		logger.Field{Key: "status", Value: uint32(err.Status)},
		logger.Field{Key: "reason", Value: err.Error()})
	c.listener.OnSessionOperationFail(err)
}
