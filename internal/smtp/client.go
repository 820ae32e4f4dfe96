// Package smtp implements the client half of one message submission
// (RFC 6409): connect, EHLO, mandatory STARTTLS, AUTH, envelope, DATA,
// QUIT. One Session carries exactly one message and is then closed.
package smtp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/mailcmd/sendmail/internal/email"
	mailtls "github.com/mailcmd/sendmail/internal/tls"
)

// DefaultPort is the mail submission port used when the configured host
// carries no explicit port.
const DefaultPort = "587"

// localName is the client identity sent in EHLO.
const localName = "localhost"

// Config holds the parameters for one delivery session.
type Config struct {
	// Host is the submission server, as host or host:port.
	Host string

	// Login and Password authenticate the session. The password is held
	// in memory only for the duration of the session and never logged.
	Login    string
	Password string

	// TLSConfig is used for the STARTTLS upgrade. If nil, a default
	// config pinned to the server name is used.
	TLSConfig *tls.Config

	// Timeout bounds the whole session including the dial. Zero leaves
	// only whatever deadline the context carries.
	Timeout time.Duration

	// Logger receives protocol-level debug lines. Defaults to
	// slog.Default(). AUTH payloads are never logged.
	Logger *slog.Logger
}

// addr resolves the configured host into the bare hostname used for TLS
// verification and a dialable address.
func (c Config) addr() (hostname, addr string) {
	host, _, err := net.SplitHostPort(c.Host)
	if err != nil {
		return c.Host, net.JoinHostPort(c.Host, DefaultPort)
	}
	return host, c.Host
}

// Session is an SMTP session that has been brought to the authenticated
// state and is ready to accept one message.
type Session struct {
	conn   net.Conn
	text   *textproto.Conn
	host   string
	exts   map[string]string
	auths  []string
	logger *slog.Logger
}

// Dial connects to the submission server and brings the session to the
// authenticated state: greeting, EHLO, STARTTLS, re-EHLO, AUTH.
// Credentials are only ever written to the encrypted connection; a
// server that does not offer STARTTLS is a fatal encrypt-stage error.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hostname, addr := cfg.addr()

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, stageErr(StageConnect, err)
	}

	// A single absolute deadline covers every round-trip of the session.
	if cfg.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(cfg.Timeout))
	} else if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	s := &Session{
		conn:   conn,
		text:   textproto.NewConn(conn),
		host:   hostname,
		logger: logger,
	}

	established := false
	defer func() {
		if !established {
			s.text.Close()
		}
	}()

	if _, _, err := s.text.ReadResponse(220); err != nil {
		return nil, stageErr(StageConnect, err)
	}
	if err := s.ehlo(); err != nil {
		return nil, stageErr(StageConnect, err)
	}

	if _, ok := s.exts["STARTTLS"]; !ok {
		return nil, &DeliveryError{Stage: StageEncrypt, Err: ErrTLSNotOffered}
	}
	tlsCfg := cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = mailtls.ClientConfig(hostname)
	}
	if err := s.startTLS(ctx, tlsCfg); err != nil {
		return nil, stageErr(StageEncrypt, err)
	}

	if err := s.auth(cfg.Login, cfg.Password); err != nil {
		return nil, err
	}

	established = true
	return s, nil
}

// cmd sends one command and reads the reply, logging both at debug
// level. logAs overrides the logged form so AUTH payloads stay out of
// the logs; empty means log the command as sent.
func (s *Session) cmd(expectCode int, logAs, format string, args ...any) (int, string, error) {
	if logAs == "" {
		logAs = strings.SplitN(fmt.Sprintf(format, args...), "\n", 2)[0]
	}
	s.logger.Debug("smtp send", "cmd", logAs)

	id, err := s.text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	s.text.StartResponse(id)
	defer s.text.EndResponse(id)

	code, msg, err := s.text.ReadResponse(expectCode)
	s.logger.Debug("smtp recv", "code", code, "msg", firstLine(msg))
	return code, msg, err
}

// ehlo greets the server and records the advertised extensions and AUTH
// mechanisms.
func (s *Session) ehlo() error {
	_, msg, err := s.cmd(250, "", "EHLO %s", localName)
	if err != nil {
		return err
	}

	s.exts = make(map[string]string)
	s.auths = nil

	lines := strings.Split(msg, "\n")
	if len(lines) > 1 {
		for _, line := range lines[1:] {
			kv := strings.SplitN(line, " ", 2)
			if len(kv) == 2 {
				s.exts[strings.ToUpper(kv[0])] = kv[1]
			} else {
				s.exts[strings.ToUpper(kv[0])] = ""
			}
		}
	}
	if mechs, ok := s.exts["AUTH"]; ok {
		s.auths = strings.Fields(mechs)
	}
	return nil
}

// startTLS upgrades the connection and re-issues EHLO, since the
// pre-TLS extension list is void after the handshake (RFC 3207).
func (s *Session) startTLS(ctx context.Context, cfg *tls.Config) error {
	if _, _, err := s.cmd(220, "", "STARTTLS"); err != nil {
		return err
	}

	tlsConn := tls.Client(s.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}

	s.conn = tlsConn
	s.text = textproto.NewConn(tlsConn)
	return s.ehlo()
}

// auth runs the SASL exchange with whichever offered mechanism is
// supported. A failure aborts the session before any envelope command.
func (s *Session) auth(login, password string) error {
	mech := pickMechanism(s.auths, login, password)
	if mech == nil {
		return &DeliveryError{Stage: StageAuthenticate, Err: ErrAuthNotOffered}
	}

	enc := base64.StdEncoding
	var (
		code int
		msg  string
		err  error
	)
	if initial := mech.start(); initial != nil {
		code, msg, err = s.cmd(0, "AUTH "+mech.name()+" ****", "AUTH %s %s", mech.name(), enc.EncodeToString(initial))
	} else {
		code, msg, err = s.cmd(0, "", "AUTH %s", mech.name())
	}

	for {
		if err != nil {
			return stageErr(StageAuthenticate, err)
		}
		switch code {
		case 235:
			return nil
		case 334:
			challenge, decErr := enc.DecodeString(msg)
			if decErr != nil {
				return &DeliveryError{Stage: StageAuthenticate, Err: decErr}
			}
			resp, mechErr := mech.next(challenge)
			if mechErr != nil {
				// Cancel the exchange before giving up (RFC 4954 §4).
				s.cmd(501, "*", "*")
				return &DeliveryError{Stage: StageAuthenticate, Err: mechErr}
			}
			code, msg, err = s.cmd(0, "****", "%s", enc.EncodeToString(resp))
		default:
			return &DeliveryError{Stage: StageAuthenticate, Code: code, Detail: msg}
		}
	}
}

// Send transmits one message for the given envelope. Every recipient is
// offered before the result is decided: if any are refused, the whole
// attempt fails with an EnvelopeError naming them and no DATA is sent.
func (s *Session) Send(from string, recipients []string, body []byte) error {
	if _, _, err := s.cmd(250, "", "MAIL FROM:<%s>", from); err != nil {
		return stageErr(StageEnvelope, err)
	}

	var rejected []RcptError
	for _, rcpt := range recipients {
		if _, _, err := s.cmd(25, "", "RCPT TO:<%s>", rcpt); err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) {
				rejected = append(rejected, RcptError{Addr: rcpt, Code: tpErr.Code, Detail: tpErr.Msg})
				continue
			}
			return stageErr(StageEnvelope, err)
		}
	}
	if len(rejected) > 0 {
		return &DeliveryError{Stage: StageEnvelope, Err: &EnvelopeError{Rejected: rejected}}
	}

	if _, _, err := s.cmd(354, "", "DATA"); err != nil {
		return stageErr(StageTransmit, err)
	}
	w := s.text.DotWriter()
	if _, err := w.Write(body); err != nil {
		w.Close()
		return stageErr(StageTransmit, err)
	}
	if err := w.Close(); err != nil {
		return stageErr(StageTransmit, err)
	}
	if _, _, err := s.text.ReadResponse(250); err != nil {
		return stageErr(StageTransmit, err)
	}
	return nil
}

// Quit ends the session. The network connection is closed even when the
// QUIT exchange fails.
func (s *Session) Quit() error {
	_, _, err := s.cmd(221, "", "QUIT")
	if closeErr := s.text.Close(); err == nil && closeErr != nil {
		err = stageErr(StageTransmit, closeErr)
	} else if err != nil {
		err = stageErr(StageTransmit, err)
	}
	return err
}

// Close tears down the connection without the QUIT exchange.
func (s *Session) Close() error {
	return s.text.Close()
}

// Deliver performs one complete delivery attempt for a built message:
// dial, session establishment, submission, QUIT. The TCP connection is
// released on every exit path, and no retry is ever made. MAIL FROM
// uses the login address, matching what the session authenticated as.
func Deliver(ctx context.Context, cfg Config, msg *email.Message) error {
	body, err := msg.Bytes()
	if err != nil {
		return &DeliveryError{Stage: StageTransmit, Err: err}
	}

	sess, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	if err := sess.Send(cfg.Login, msg.Envelope(), body); err != nil {
		sess.Close()
		return err
	}
	return sess.Quit()
}

// firstLine trims a multi-line reply down for log output.
func firstLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
