package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/parser"
	"github.com/shineum/mail-interceptor/internal/provider"
	"github.com/shineum/mail-interceptor/internal/provider/intercept"
)

// phase is how far a session has progressed. Commands require a minimum phase.
type phase int

const (
	phaseConnected phase = iota
	phaseGreeted
	phaseAuthenticated
	phaseMail
	phaseRcpt
)

// idleTimeout closes sessions that send nothing for this long.
const idleTimeout = 60 * time.Second

// DefaultMaxMessageSize is used when SessionConfig.MaxMessageSize is zero (10 MB).
const DefaultMaxMessageSize = 10 * 1024 * 1024

var (
	// errMessageTooLarge is returned by readData once the oversized payload
	// has been consumed.
	errMessageTooLarge = errors.New("message exceeds maximum size")

	// errAuthCancelled is returned when the client answers a challenge with "*".
	errAuthCancelled = errors.New("authentication cancelled")
)

// reply is an SMTP response.
type reply struct {
	code int
	text string
}

var (
	replyOK             = reply{250, "OK"}
	replyNeedHello      = reply{503, "Send EHLO/HELO first"}
	replyNeedMail       = reply{503, "Send MAIL FROM first"}
	replyNeedRcpt       = reply{503, "Send RCPT TO first"}
	replyNeedAuth       = reply{530, "Authentication required"}
	replyTooLarge       = reply{552, "Message size exceeds fixed maximum message size"}
	replyMisconfigured  = reply{554, "Transaction failed: delivery is misconfigured"}
	replyTryLater       = reply{451, "Temporary failure, please try again later"}
	replyUnparseable    = reply{550, "Failed to process message"}
	replyAuthFailed     = reply{535, "Authentication failed"}
	replyAuthCancelled  = reply{501, "Authentication cancelled"}
	replyShuttingDown   = reply{421, "Service shutting down"}
	replyUnknownCommand = reply{500, "Unrecognized command"}
)

// SessionConfig holds the per-connection settings shared by all sessions of a server.
type SessionConfig struct {
	Hostname       string
	Auth           *Authenticator
	Provider       provider.Provider
	TLSConfig      *tls.Config
	MaxMessageSize int64
}

// Session speaks SMTP on one client connection and hands every accepted
// message to the configured provider.
type Session struct {
	cfg    SessionConfig
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	phase  phase
	secure bool

	// envelope of the open transaction
	from string
	rcpt []string
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("", "")
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	s := &Session{cfg: cfg}
	s.attach(conn)
	return s
}

// attach points the session's buffered reader and writer at conn.
func (s *Session) attach(conn net.Conn) {
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.writer = bufio.NewWriter(conn)
}

// command handles one verb. It returns true to end the session.
type command func(s *Session, ctx context.Context, verb, arg string) bool

var commands = map[string]command{
	"HELO":     (*Session).hello,
	"EHLO":     (*Session).hello,
	"STARTTLS": (*Session).startTLS,
	"AUTH":     (*Session).auth,
	"MAIL":     (*Session).mail,
	"RCPT":     (*Session).recipient,
	"DATA":     (*Session).data,
	"RSET": func(s *Session, _ context.Context, _, _ string) bool {
		s.reset()
		s.respond(replyOK)
		return false
	},
	"NOOP": func(s *Session, _ context.Context, _, _ string) bool {
		s.respond(replyOK)
		return false
	},
	"VRFY": func(s *Session, _ context.Context, _, _ string) bool {
		s.reply(252, "Cannot VRFY user, but will accept message")
		return false
	},
	"QUIT": func(s *Session, _ context.Context, _, _ string) bool {
		s.reply(221, "Bye")
		return true
	},
}

// Handle serves the connection until the client quits, the connection
// fails or ctx is cancelled. The connection is closed on return.
func (s *Session) Handle(ctx context.Context) {
	defer func() { s.conn.Close() }()

	s.reply(220, "%s ESMTP mail-interceptor", s.cfg.Hostname)

	for ctx.Err() == nil {
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg := parseCommand(line)
		handler, ok := commands[verb]
		if !ok {
			s.respond(replyUnknownCommand)
			continue
		}
		if handler(s, ctx, verb, arg) {
			return
		}
	}
	s.respond(replyShuttingDown)
}

func (s *Session) hello(_ context.Context, verb, arg string) bool {
	if arg == "" {
		s.reply(501, "Syntax: %s hostname", verb)
		return false
	}

	s.reset()
	s.phase = max(s.phase, phaseGreeted)

	greeting := fmt.Sprintf("%s Hello %s", s.cfg.Hostname, arg)
	if verb == "HELO" {
		s.reply(250, "%s", greeting)
		return false
	}

	ext := []string{greeting}
	if s.cfg.TLSConfig != nil && !s.secure {
		ext = append(ext, "STARTTLS")
	}
	if s.cfg.Auth.Enabled() {
		ext = append(ext, "AUTH PLAIN LOGIN")
	}
	ext = append(ext, "SIZE "+strconv.FormatInt(s.cfg.MaxMessageSize, 10), "8BITMIME", "OK")
	s.replyLines(250, ext)
	return false
}

// startTLS upgrades the connection. The client must greet again afterwards.
func (s *Session) startTLS(context.Context, string, string) bool {
	if s.cfg.TLSConfig == nil {
		s.reply(454, "TLS not available")
		return false
	}
	if s.secure {
		s.reply(454, "TLS already active")
		return false
	}

	s.reply(220, "Ready to start TLS")

	conn := tls.Server(s.conn, s.cfg.TLSConfig)
	if err := conn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return true
	}

	s.attach(conn)
	s.secure = true
	s.phase = phaseConnected
	s.reset()
	return false
}

// auth runs AUTH PLAIN or AUTH LOGIN.
func (s *Session) auth(_ context.Context, _, arg string) bool {
	switch {
	case s.phase < phaseGreeted:
		s.respond(replyNeedHello)
		return false
	case !s.cfg.Auth.Enabled():
		s.reply(503, "AUTH not available")
		return false
	case s.phase >= phaseAuthenticated:
		s.reply(503, "Already authenticated")
		return false
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.reply(504, "Unrecognized authentication type")
		return false
	}

	switch {
	case err == nil:
		s.phase = phaseAuthenticated
		s.reply(235, "Authentication successful")
	case errors.Is(err, errAuthCancelled):
		s.respond(replyAuthCancelled)
	case errors.Is(err, io.EOF), isNetError(err):
		slog.Debug("connection lost during AUTH", "error", err)
		return true
	default:
		slog.Info("SMTP authentication failed", "error", err)
		s.respond(replyAuthFailed)
	}
	return false
}

// authPlain verifies AUTH PLAIN, prompting for the credentials when they
// were not sent inline.
func (s *Session) authPlain(initial string) error {
	if initial != "" {
		return s.cfg.Auth.VerifyPlain(initial)
	}
	answer, err := s.challenge("")
	if err != nil {
		return err
	}
	return s.cfg.Auth.VerifyPlain(answer)
}

func (s *Session) authLogin() error {
	user, err := s.challenge("VXNlcm5hbWU6") // Username:
	if err != nil {
		return err
	}
	pass, err := s.challenge("UGFzc3dvcmQ6") // Password:
	if err != nil {
		return err
	}
	return s.cfg.Auth.VerifyLogin(user, pass)
}

// challenge sends a 334 prompt and returns the client's answer.
func (s *Session) challenge(prompt string) (string, error) {
	if prompt == "" {
		s.write("334")
	} else {
		s.reply(334, "%s", prompt)
	}
	answer, err := s.readLine()
	if err != nil {
		return "", err
	}
	if answer == "*" {
		return "", errAuthCancelled
	}
	return answer, nil
}

func (s *Session) mail(_ context.Context, _, arg string) bool {
	if s.phase < phaseGreeted {
		s.respond(replyNeedHello)
		return false
	}
	if s.cfg.Auth.Enabled() && s.phase < phaseAuthenticated {
		s.respond(replyNeedAuth)
		return false
	}

	addr, params, ok := parsePath(arg, "FROM:")
	if !ok {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return false
	}
	if declared, err := strconv.ParseInt(params["SIZE"], 10, 64); err == nil && declared > s.cfg.MaxMessageSize {
		s.respond(replyTooLarge)
		return false
	}

	s.from, s.rcpt = addr, nil
	s.phase = phaseMail
	s.respond(replyOK)
	return false
}

func (s *Session) recipient(_ context.Context, _, arg string) bool {
	if s.phase < phaseMail {
		s.respond(replyNeedMail)
		return false
	}

	addr, _, ok := parsePath(arg, "TO:")
	if !ok || addr == "" {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return false
	}

	s.rcpt = append(s.rcpt, addr)
	s.phase = phaseRcpt
	s.respond(replyOK)
	return false
}

// data receives the message, parses it and hands it to the provider. The
// transaction is closed whatever the outcome.
func (s *Session) data(ctx context.Context, _, _ string) bool {
	if s.phase < phaseRcpt {
		s.respond(replyNeedRcpt)
		return false
	}

	s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")

	raw, err := readData(s.reader, s.cfg.MaxMessageSize)
	switch {
	case errors.Is(err, errMessageTooLarge):
		s.reset()
		s.respond(replyTooLarge)
		return false
	case err != nil:
		slog.Error("error reading DATA", "error", err)
		return true
	}
	defer s.reset()

	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Error("failed to parse message", "error", err)
		s.respond(replyUnparseable)
		return false
	}
	applyEnvelope(msg, s.from, s.rcpt)

	result, err := s.cfg.Provider.Send(ctx, msg)
	if err != nil {
		slog.Error("provider send failed",
			"provider", s.cfg.Provider.Name(),
			"error", err,
		)
		s.respond(replyForError(err))
		return false
	}

	if result == nil || result.MessageID == "" {
		s.reply(250, "OK message queued")
		return false
	}
	slog.Info("message delivered",
		"provider", result.Provider,
		"message_id", result.MessageID,
		"recipients", len(result.Recipients),
	)
	s.reply(250, "OK queued as %s", result.MessageID)
	return false
}

// reset drops the open transaction but keeps greeting and authentication.
func (s *Session) reset() {
	s.from, s.rcpt = "", nil
	if s.phase > phaseAuthenticated {
		s.phase = phaseAuthenticated
	}
	if s.phase == phaseAuthenticated && !s.cfg.Auth.Enabled() {
		s.phase = phaseGreeted
	}
}

func (s *Session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Session) respond(r reply) {
	s.reply(r.code, "%s", r.text)
}

func (s *Session) reply(code int, format string, args ...any) {
	s.write(strconv.Itoa(code) + " " + fmt.Sprintf(format, args...))
}

// replyLines writes a multi-line reply: "code-" on every line but the last.
func (s *Session) replyLines(code int, lines []string) {
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		s.write(strconv.Itoa(code) + sep + l)
	}
}

func (s *Session) write(line string) {
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// readData reads a dot-terminated DATA payload, undoing dot-stuffing. When
// the payload exceeds limit the rest is drained and errMessageTooLarge returned.
func readData(r *bufio.Reader, limit int64) ([]byte, error) {
	var (
		buf  []byte
		size int64
	)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		if string(line) == ".\r\n" || string(line) == ".\n" {
			break
		}
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}

		size += int64(len(line))
		if size <= limit {
			buf = append(buf, line...)
		}
	}

	if size > limit {
		return nil, errMessageTooLarge
	}
	return buf, nil
}

// applyEnvelope fills in what the headers leave out. The envelope sender is
// used when there is no From header, and envelope recipients that are not
// listed in To or Cc are delivered as Bcc.
func applyEnvelope(msg *email.Email, mailFrom string, rcptTo []string) {
	if msg.From == "" {
		msg.From = mailFrom
	}
	if len(msg.To) == 0 && len(msg.Cc) == 0 {
		msg.To = email.Addrs(rcptTo...)
		return
	}
	for _, r := range rcptTo {
		if !msg.To.Has(r) && !msg.Cc.Has(r) && !msg.Bcc.Has(r) {
			msg.Bcc = msg.Bcc.Set(r, r)
		}
	}
}

// replyForError maps a delivery error to an SMTP reply. Configuration errors
// are permanent, everything else is reported as transient.
func replyForError(err error) reply {
	if errors.Is(err, intercept.ErrInvalidConfig) || errors.Is(err, provider.ErrUnknownProvider) {
		return replyMisconfigured
	}
	return replyTryLater
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

// parseCommand splits a command line into the upper-cased verb and its argument.
func parseCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}

// parsePath parses "FROM:<addr> KEY=VALUE ..." style arguments. The prefix is
// matched case-insensitively. An empty reverse-path "<>" is valid and yields "".
func parsePath(arg, prefix string) (string, map[string]string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", nil, false
	}
	rest := strings.TrimSpace(arg[len(prefix):])
	if rest == "" {
		return "", nil, false
	}

	var addr string
	if strings.HasPrefix(rest, "<") {
		end := strings.Index(rest, ">")
		if end < 0 {
			return "", nil, false
		}
		addr, rest = rest[1:end], rest[end+1:]
	} else {
		addr, rest, _ = strings.Cut(rest, " ")
	}

	params := make(map[string]string)
	for _, p := range strings.Fields(rest) {
		k, v, _ := strings.Cut(p, "=")
		params[strings.ToUpper(k)] = v
	}
	return addr, params, true
}
