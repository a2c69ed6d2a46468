package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/screenary/config"
	"github.com/cyberinferno/screenary/dispatcher"
	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/session"
	"github.com/cyberinferno/screenary/transport"
)

type clientFlags struct {
	server   string
	username string
	password string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.server, "server", "s", "", "server address host:port (default from server config)")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "username shown to other participants")
	cmd.Flags().StringVarP(&f.password, "password", "P", "", "session password")
	_ = cmd.MarkFlagRequired("username")
}

func createCmd(flags *globalFlags) *cobra.Command {
	cf := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and stay connected as its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), flags, cf, func(c *session.Client) error {
				return c.SendCreateReq(cf.username, cf.password)
			})
		},
	}

	cf.register(cmd)
	return cmd
}

func joinCmd(flags *globalFlags) *cobra.Command {
	cf := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "join SESSION_KEY",
		Short: "Join a session and follow its participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if len(key) != session.KeyLength {
				return session.ErrInvalidSessionKey
			}

			return runClient(cmd.Context(), flags, cf, func(c *session.Client) error {
				return c.SendJoinReq(key)
			})
		},
	}

	cf.register(cmd)
	return cmd
}

// runClient connects, sends the first request and prints session events until
// interrupted, the session ends, or the connection drops.
func runClient(parent context.Context, flags *globalFlags, cf *clientFlags, first func(*session.Client) error) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, "screenary-client")
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := dispatcher.New(log)
	conn := transport.NewConnection(transportConfig(cfg, cf.server), d, transport.WithLogger(log))

	printer := newConsoleListener(cf, log)
	client := session.NewClient(conn, printer, session.WithLogger(log))
	printer.client = client
	d.Register(client)

	lost := make(chan error, 1)
	conn.OnError(func(e transport.ErrorEvent) {
		var terr *transport.TransportError
		if errors.As(e.Error, &terr) {
			select {
			case lost <- terr:
			default:
			}
		}
	})

	if err := conn.Connect(); err != nil {
		return err
	}
	defer conn.Disconnect()

	if err := first(client); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		// the server ends an owner's session, or removes a participant, on disconnect
		return nil
	case err := <-printer.done:
		return err
	case err := <-lost:
		return err
	}
}

func transportConfig(cfg config.Config, server string) transport.Config {
	addr := server
	if addr == "" {
		addr = cfg.Server.Address()
	}

	tc := transport.DefaultConfig(addr)
	tc.ConnectionTimeout = cfg.Transport.ConnectTimeout
	tc.WriteTimeout = cfg.Transport.WriteTimeout
	tc.MaxMessageSize = cfg.Transport.MaxMessageSize
	return tc
}

// consoleListener prints session events. Its methods all run on the session
// worker, which is the only goroutine touching key.
type consoleListener struct {
	flags  *clientFlags
	log    logger.Logger
	client *session.Client
	key    string
	done   chan error
}

func newConsoleListener(cf *clientFlags, log logger.Logger) *consoleListener {
	return &consoleListener{flags: cf, log: log, done: make(chan error, 1)}
}

func (l *consoleListener) finish(err error) {
	select {
	case l.done <- err:
	default:
	}
}

func (l *consoleListener) OnSessionCreationSuccess(key string) {
	l.key = key
	fmt.Printf("session created, key %s (share it with participants)\n", key)
}

func (l *consoleListener) OnSessionJoinSuccess(key string, isPasswordProtected bool) {
	l.key = key
	fmt.Printf("joined session %s\n", key)

	if isPasswordProtected && l.flags.password == "" {
		fmt.Println("session is password protected; authenticating with an empty password")
	}

	if err := l.client.SendAuthReq(l.flags.username, l.flags.password); err != nil {
		l.finish(err)
	}
}

func (l *consoleListener) OnSessionAuthenticationSuccess() {
	fmt.Printf("authenticated as %s\n", l.flags.username)
}

func (l *consoleListener) OnSessionLeaveSuccess() {
	fmt.Println("left the session")
	l.finish(nil)
}

func (l *consoleListener) OnSessionTerminationSuccess(key string) {
	fmt.Printf("session %s terminated\n", key)
	l.finish(nil)
}

func (l *consoleListener) OnSessionOperationFail(err *session.OperationError) {
	fmt.Fprintf(os.Stderr, "%v\n", err)
	if err.Op == session.OpJoin || err.Op == session.OpCreate || err.Op == session.OpAuthenticate {
		l.finish(err)
	}
}

func (l *consoleListener) OnSessionParticipantListUpdate(participants []string) {
	fmt.Printf("participants: %s\n", strings.Join(participants, ", "))
}

func (l *consoleListener) OnSessionNotificationUpdate(notifications []session.Notification) {
	for _, n := range notifications {
		fmt.Printf("%s: %s\n", n.Username, n.Type)
		if n.Type == session.NotificationSessionTerminated {
			l.finish(nil)
		}
	}
}

func (l *consoleListener) OnSessionFirstNotificationUpdate(notifications []session.FirstNotification) {
	for _, n := range notifications {
		fmt.Printf("%s: %s (hosted by %s)\n", n.Username, n.Type, n.Sender)
	}
}

func (l *consoleListener) OnSessionRemoteAccessRequestReceived(username string) {
	// remote control is granted from the desktop app; the console denies it
	fmt.Printf("%s requested remote access; denying\n", username)
	if err := l.client.SendRemoteAccessPermissionReq(l.key, username, false); err != nil {
		l.log.Warn("remote access answer failed", logger.Field{Key: "error", Value: err.Error()})
	}
}
