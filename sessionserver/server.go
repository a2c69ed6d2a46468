// Package sessionserver is the server half of the session protocol. It keeps
// the live sessions of one node, answers session requests, broadcasts
// participant lists and notifications, forwards remote access requests to
// session owners, and relays screen updates and input between members.
// Session keys are resolved through a Directory, which may be shared between
// nodes.
package sessionserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyberinferno/screenary/idgenerator"
	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/pdu"
	"github.com/cyberinferno/screenary/session"
	"github.com/cyberinferno/screenary/tcpserver"
)

// Peer is a connected client. *tcpserver.Conn implements it.
type Peer interface {
	ID() uint32
	Send(payload []byte, channelID uint16, pduType uint8) error
}

// Config holds session server settings.
type Config struct {
	// Node identifies this server in directory records.
	Node string
	// OpTimeout bounds each directory call; 0 means no timeout.
	OpTimeout time.Duration
}

type message interface {
	Encode() ([]byte, error)
}

type delivery struct {
	peer    Peer
	channel uint16
	pduType uint8
	msg     message
	raw     []byte
}

type member struct {
	peer          Peer
	session       *liveSession
	username      string
	authenticated bool
}

type liveSession struct {
	id       uint32
	key      string
	password string
	owner    *member
	members  []*member // join order, owner first
	remote   string    // username holding remote access
}

// Server implements tcpserver.Handler. All state is guarded by one mutex;
// replies are encoded and sent after it is released.
type Server struct {
	config    Config
	directory Directory
	logger    logger.Logger

	mu         sync.Mutex
	sessions   map[uint32]*liveSession
	byKey      map[string]*liveSession
	members    map[uint32]*member // by peer id
	sessionIDs idgenerator.IdGenerator
}

var _ tcpserver.Handler = (*Server)(nil)

// New creates a session server resolving keys through directory. A nil
// logger is allowed.
func New(config Config, directory Directory, l logger.Logger) *Server {
	return &Server{
		config:    config,
		directory: directory,
		logger:    logger.OrNop(l).With(logger.Field{Key: "component", Value: "sessionserver"}),
		sessions:  make(map[uint32]*liveSession),
		byKey:     make(map[string]*liveSession),
		members:   make(map[uint32]*member),
	}
}

// SessionCount returns the number of live sessions on this node.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// OnConnect logs the new connection. Nothing is tracked until it sends a
// request.
func (s *Server) OnConnect(conn *tcpserver.Conn) {
	s.logger.Debug("client connected", logger.Field{Key: "conn_id", Value: conn.ID()})
}

// OnPDU handles session requests and relays update and input PDUs.
func (s *Server) OnPDU(conn *tcpserver.Conn, p pdu.PDU) {
	s.handlePDU(conn, p)
}

// OnDisconnect removes conn from its session. An owner's disconnect ends
// the session.
func (s *Server) OnDisconnect(conn *tcpserver.Conn) {
	s.handleDisconnect(conn)
}

func (s *Server) handlePDU(peer Peer, p pdu.PDU) {
	var out []delivery

	switch p.ChannelID {
	case pdu.ChannelSession:
		out = s.handleSession(peer, p)
	case pdu.ChannelUpdate:
		out = s.relayUpdate(peer, p)
	case pdu.ChannelInput:
		out = s.relayInput(peer, p)
	default:
		s.logger.Debug("dropping pdu for unknown channel", logger.Field{Key: "channel", Value: p.ChannelID})
	}

	s.deliver(out)
}

func (s *Server) handleSession(peer Peer, p pdu.PDU) []delivery {
	switch p.Type {
	case session.TypeCreateRequest:
		req, err := session.DecodeCreateRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.create(peer, req)

	case session.TypeJoinRequest:
		req, err := session.DecodeJoinRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.join(peer, req)

	case session.TypeAuthRequest:
		req, err := session.DecodeAuthRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.authenticate(peer, req)

	case session.TypeLeaveRequest:
		req, err := session.DecodeLeaveRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.leave(peer, req)

	case session.TypeTermRequest:
		req, err := session.DecodeTermRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.terminate(peer, req)

	case session.TypeRemoteAccessRequest:
		req, err := session.DecodeRemoteAccessRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.remoteAccess(peer, req)

	case session.TypeRemoteAccessPermissionRequest:
		req, err := session.DecodeRemoteAccessPermissionRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.remoteAccessPermission(peer, req)

	case session.TypeTermRemoteAccessRequest:
		req, err := session.DecodeTermRemoteAccessRequest(p.Payload)
		if err != nil {
			return s.badRequest(peer, p, err)
		}
		return s.termRemoteAccess(peer, req)

	default:
		s.logger.Debug("ignoring session pdu", logger.Field{Key: "type", Value: session.TypeName(p.Type)})
		return nil
	}
}

func (s *Server) badRequest(peer Peer, p pdu.PDU, err error) []delivery {
	s.logger.Warn("malformed request",
		logger.Field{Key: "conn_id", Value: peer.ID()},
		logger.Field{Key: "type", Value: session.TypeName(p.Type)},
		logger.Field{Key: "error", Value: err.Error()})
	return nil
}

func (s *Server) create(peer Peer, req session.CreateRequest) []delivery {
	reply := func(rsp session.KeyResponse) []delivery {
		return []delivery{{peer: peer, channel: pdu.ChannelSession, pduType: session.TypeCreateResponse, msg: rsp}}
	}

	if req.Username == "" {
		return reply(session.KeyResponse{Status: session.StatusBadCredentials})
	}

	s.mu.Lock()
	if m := s.members[peer.ID()]; m != nil && m.session != nil {
		s.mu.Unlock()
		return reply(session.KeyResponse{SessionID: m.session.id, Status: session.StatusDuplicateUser})
	}
	s.mu.Unlock()

	id := s.sessionIDs.Id()

	rec, err := s.register(id, req)
	if err != nil {
		s.logger.Error("session registration failed", logger.Field{Key: "error", Value: err.Error()})
		return reply(session.KeyResponse{Status: session.StatusNotFound})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner := s.memberFor(peer)
	owner.username = req.Username
	owner.authenticated = true

	ls := &liveSession{id: id, key: rec.Key, password: req.Password, owner: owner, members: []*member{owner}}
	owner.session = ls
	s.sessions[id] = ls
	s.byKey[rec.Key] = ls

	s.logger.Info("session created",
		logger.Field{Key: "session_id", Value: id},
		logger.Field{Key: "owner", Value: req.Username})

	out := reply(session.KeyResponse{SessionID: id, SessionKey: rec.Key})
	return append(out, s.participantsLocked(ls)...)
}

// register claims a fresh key in the directory, retrying on collisions.
func (s *Server) register(id uint32, req session.CreateRequest) (Record, error) {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		var key string
		if key, err = NewSessionKey(); err != nil {
			return Record{}, err
		}

		rec := Record{
			ID:                id,
			Key:               key,
			Owner:             req.Username,
			PasswordProtected: req.Password != "",
			Node:              s.config.Node,
			CreatedAt:         time.Now().UTC(),
		}

		ctx, cancel := s.opContext()
		err = s.directory.Register(ctx, rec)
		cancel()

		if err == nil {
			return rec, nil
		}

		if !errors.Is(err, ErrKeyExists) {
			return Record{}, err
		}
	}

	return Record{}, err
}

func (s *Server) join(peer Peer, req session.JoinRequest) []delivery {
	reply := func(rsp session.JoinResponse) []delivery {
		return []delivery{{peer: peer, channel: pdu.ChannelSession, pduType: session.TypeJoinResponse, msg: rsp}}
	}

	ctx, cancel := s.opContext()
	rec, err := s.directory.Lookup(ctx, req.SessionKey)
	cancel()

	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			s.logger.Error("session lookup failed", logger.Field{Key: "error", Value: err.Error()})
		}
		return reply(session.JoinResponse{Status: session.StatusNotFound})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ls := s.sessions[rec.ID]
	if ls == nil || ls.key != rec.Key {
		// registered by another node or already ended
		return reply(session.JoinResponse{Status: session.StatusNotFound})
	}

	m := s.memberFor(peer)
	if m.session != nil {
		return reply(session.JoinResponse{SessionID: m.session.id, Status: session.StatusDuplicateUser})
	}

	m.session = ls
	ls.members = append(ls.members, m)

	var flags uint8
	if ls.password != "" {
		flags |= session.FlagPasswordProtected
	}

	return reply(session.JoinResponse{SessionID: ls.id, SessionKey: ls.key, Flags: flags})
}

func (s *Server) authenticate(peer Peer, req session.AuthRequest) []delivery {
	reply := func(id uint32, status session.Status) []delivery {
		return []delivery{{
			peer:    peer,
			channel: pdu.ChannelSession,
			pduType: session.TypeAuthResponse,
			msg:     session.StatusResponse{SessionID: id, Status: status},
		}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.members[peer.ID()]
	if m == nil || m.session == nil {
		return reply(req.SessionID, session.StatusNotFound)
	}

	ls := m.session
	if ls.id != req.SessionID {
		return reply(ls.id, session.StatusIDMismatch)
	}

	if m.authenticated {
		return reply(ls.id, session.StatusOK)
	}

	if req.Username == "" || req.Password != ls.password {
		return reply(ls.id, session.StatusBadCredentials)
	}

	for _, other := range ls.members {
		if other.authenticated && other.username == req.Username {
			return reply(ls.id, session.StatusDuplicateUser)
		}
	}

	m.username = req.Username
	m.authenticated = true

	s.logger.Info("participant joined",
		logger.Field{Key: "session_id", Value: ls.id},
		logger.Field{Key: "username", Value: m.username})

	out := reply(ls.id, session.StatusOK)
	out = append(out, s.participantsLocked(ls)...)
	out = append(out, s.notifyLocked(ls, m, session.Notification{Type: session.NotificationJoined, Username: m.username})...)
	out = append(out, delivery{
		peer:    peer,
		channel: pdu.ChannelSession,
		pduType: session.TypeFirstNotificationResponse,
		msg: session.FirstNotificationUpdate{Notifications: []session.FirstNotification{{
			Type:     session.NotificationJoined,
			Username: m.username,
			Sender:   ls.owner.username,
		}}},
	})

	return out
}

func (s *Server) leave(peer Peer, req session.LeaveRequest) []delivery {
	reply := func(id uint32, status session.Status) []delivery {
		return []delivery{{
			peer:    peer,
			channel: pdu.ChannelSession,
			pduType: session.TypeLeaveResponse,
			msg:     session.StatusResponse{SessionID: id, Status: status},
		}}
	}

	s.mu.Lock()
	m := s.members[peer.ID()]
	if m == nil || m.session == nil {
		s.mu.Unlock()
		return reply(req.SessionID, session.StatusNotFound)
	}

	ls := m.session
	if ls.id != req.SessionID {
		s.mu.Unlock()
		return reply(ls.id, session.StatusIDMismatch)
	}

	out := reply(ls.id, session.StatusOK)
	out = append(out, s.removeMemberLocked(m)...)
	ended := s.byKey[ls.key] == nil
	s.mu.Unlock()

	if ended {
		s.unregister(ls.key)
	}

	return out
}

func (s *Server) terminate(peer Peer, req session.TermRequest) []delivery {
	reply := func(rsp session.KeyResponse) []delivery {
		return []delivery{{peer: peer, channel: pdu.ChannelSession, pduType: session.TypeTermResponse, msg: rsp}}
	}

	s.mu.Lock()
	ls := s.byKey[req.SessionKey]
	if ls == nil {
		s.mu.Unlock()
		return reply(session.KeyResponse{SessionID: req.SessionID, Status: session.StatusNotFound})
	}

	m := s.members[peer.ID()]
	if m == nil || ls.owner != m {
		s.mu.Unlock()
		return reply(session.KeyResponse{SessionID: req.SessionID, Status: session.StatusNotOwner})
	}

	if ls.id != req.SessionID {
		s.mu.Unlock()
		return reply(session.KeyResponse{SessionID: ls.id, Status: session.StatusIDMismatch})
	}

	out := reply(session.KeyResponse{SessionID: ls.id, SessionKey: ls.key})
	out = append(out, s.endSessionLocked(ls)...)
	s.mu.Unlock()

	s.unregister(ls.key)
	return out
}

func (s *Server) remoteAccess(peer Peer, req session.RemoteAccessRequest) []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ls := s.sessionMemberLocked(peer, req.SessionKey)
	if ls == nil || !m.authenticated || m == ls.owner {
		s.logger.Debug("ignoring remote access request", logger.Field{Key: "conn_id", Value: peer.ID()})
		return nil
	}

	return []delivery{{
		peer:    ls.owner.peer,
		channel: pdu.ChannelSession,
		pduType: session.TypeRemoteAccessResponse,
		msg:     session.RemoteAccessNotice{Username: m.username},
	}}
}

func (s *Server) remoteAccessPermission(peer Peer, req session.RemoteAccessPermissionRequest) []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ls := s.sessionMemberLocked(peer, req.SessionKey)
	if ls == nil || m != ls.owner {
		s.logger.Debug("ignoring remote access permission", logger.Field{Key: "conn_id", Value: peer.ID()})
		return nil
	}

	target := findMember(ls, req.Username)
	if target == nil {
		return nil
	}

	kind := session.NotificationRemoteAccessDenied
	if req.Permission {
		kind = session.NotificationRemoteAccessGranted
		ls.remote = target.username
	}

	return []delivery{notification(target.peer, session.Notification{Type: kind, Username: target.username})}
}

func (s *Server) termRemoteAccess(peer Peer, req session.TermRemoteAccessRequest) []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ls := s.sessionMemberLocked(peer, req.SessionKey)
	if ls == nil || ls.remote == "" || ls.remote != req.Username {
		return nil
	}

	if m != ls.owner && m.username != req.Username {
		return nil
	}

	ls.remote = ""
	n := session.Notification{Type: session.NotificationRemoteAccessRevoked, Username: req.Username}

	out := []delivery{notification(ls.owner.peer, n)}
	if target := findMember(ls, req.Username); target != nil && target != ls.owner {
		out = append(out, notification(target.peer, n))
	}

	return out
}

// relayUpdate forwards screen updates from a session owner to every
// authenticated participant.
func (s *Server) relayUpdate(peer Peer, p pdu.PDU) []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.members[peer.ID()]
	if m == nil || m.session == nil || m.session.owner != m {
		return nil
	}

	var out []delivery
	for _, other := range m.session.members {
		if other != m && other.authenticated {
			out = append(out, delivery{peer: other.peer, channel: p.ChannelID, pduType: p.Type, raw: p.Payload})
		}
	}

	return out
}

// relayInput forwards input from the participant holding remote access to
// the session owner.
func (s *Server) relayInput(peer Peer, p pdu.PDU) []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.members[peer.ID()]
	if m == nil || m.session == nil || m.session.remote == "" || m.session.remote != m.username {
		return nil
	}

	return []delivery{{peer: m.session.owner.peer, channel: p.ChannelID, pduType: p.Type, raw: p.Payload}}
}

func (s *Server) handleDisconnect(peer Peer) {
	s.mu.Lock()
	m := s.members[peer.ID()]
	delete(s.members, peer.ID())

	var out []delivery
	var ended string
	if m != nil && m.session != nil {
		ls := m.session
		out = s.removeMemberLocked(m)
		if s.byKey[ls.key] == nil {
			ended = ls.key
		}
	}
	s.mu.Unlock()

	if ended != "" {
		s.unregister(ended)
	}

	s.deliver(out)
}

// removeMemberLocked detaches m from its session. When m owns the session
// the session ends for everyone.
func (s *Server) removeMemberLocked(m *member) []delivery {
	ls := m.session
	if ls.owner == m {
		return s.endSessionLocked(ls)
	}

	for i, other := range ls.members {
		if other == m {
			ls.members = append(ls.members[:i], ls.members[i+1:]...)
			break
		}
	}

	m.session = nil
	if !m.authenticated {
		return nil
	}

	username := m.username
	m.authenticated = false
	m.username = ""

	var out []delivery
	if ls.remote == username {
		ls.remote = ""
		out = append(out, notification(ls.owner.peer, session.Notification{Type: session.NotificationRemoteAccessRevoked, Username: username}))
	}

	s.logger.Info("participant left",
		logger.Field{Key: "session_id", Value: ls.id},
		logger.Field{Key: "username", Value: username})

	out = append(out, s.participantsLocked(ls)...)
	return append(out, s.notifyLocked(ls, nil, session.Notification{Type: session.NotificationLeft, Username: username})...)
}

// endSessionLocked tells every member but the owner that the session is over
// and forgets it. The caller removes the directory record.
func (s *Server) endSessionLocked(ls *liveSession) []delivery {
	n := session.Notification{Type: session.NotificationSessionTerminated, Username: ls.owner.username}

	var out []delivery
	for _, m := range ls.members {
		if m != ls.owner {
			out = append(out, notification(m.peer, n))
		}

		m.session = nil
		m.authenticated = false
		m.username = ""
	}

	delete(s.sessions, ls.id)
	delete(s.byKey, ls.key)

	s.logger.Info("session ended", logger.Field{Key: "session_id", Value: ls.id})
	return out
}

func (s *Server) unregister(key string) {
	ctx, cancel := s.opContext()
	defer cancel()

	if err := s.directory.Remove(ctx, key); err != nil {
		s.logger.Error("session unregistration failed", logger.Field{Key: "error", Value: err.Error()})
	}
}

// participantsLocked sends the full participant list to every authenticated
// member.
func (s *Server) participantsLocked(ls *liveSession) []delivery {
	var names []string
	for _, m := range ls.members {
		if m.authenticated {
			names = append(names, m.username)
		}
	}

	var out []delivery
	list := session.ParticipantList{Usernames: names}
	for _, m := range ls.members {
		if m.authenticated {
			out = append(out, delivery{peer: m.peer, channel: pdu.ChannelSession, pduType: session.TypeParticipantsResponse, msg: list})
		}
	}

	return out
}

// notifyLocked sends n to every authenticated member except skip.
func (s *Server) notifyLocked(ls *liveSession, skip *member, n session.Notification) []delivery {
	var out []delivery
	for _, m := range ls.members {
		if m != skip && m.authenticated {
			out = append(out, notification(m.peer, n))
		}
	}

	return out
}

func (s *Server) memberFor(peer Peer) *member {
	m := s.members[peer.ID()]
	if m == nil {
		m = &member{peer: peer}
		s.members[peer.ID()] = m
	}

	return m
}

func (s *Server) sessionMemberLocked(peer Peer, key string) (*member, *liveSession) {
	m := s.members[peer.ID()]
	if m == nil || m.session == nil || m.session.key != key {
		return nil, nil
	}

	return m, m.session
}

func findMember(ls *liveSession, username string) *member {
	for _, m := range ls.members {
		if m.authenticated && m.username == username {
			return m
		}
	}

	return nil
}

func notification(peer Peer, n session.Notification) delivery {
	return delivery{
		peer:    peer,
		channel: pdu.ChannelSession,
		pduType: session.TypeNotificationResponse,
		msg:     session.NotificationUpdate{Notifications: []session.Notification{n}},
	}
}

func (s *Server) deliver(out []delivery) {
	for _, d := range out {
		payload := d.raw
		if d.msg != nil {
			var err error
			if payload, err = d.msg.Encode(); err != nil {
				s.logger.Error("encode failed",
					logger.Field{Key: "type", Value: session.TypeName(d.pduType)},
					logger.Field{Key: "error", Value: err.Error()})
				continue
			}
		}

		if err := d.peer.Send(payload, d.channel, d.pduType); err != nil {
			s.logger.Warn("delivery failed",
				logger.Field{Key: "conn_id", Value: d.peer.ID()},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

func (s *Server) opContext() (context.Context, context.CancelFunc) {
	if s.config.OpTimeout > 0 {
		return context.WithTimeout(context.Background(), s.config.OpTimeout)
	}

	return context.WithCancel(context.Background())
}
