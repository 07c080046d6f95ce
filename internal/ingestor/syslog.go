package ingestor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// UDPListenerFactory creates a UDP connection.
type UDPListenerFactory func(network, address string) (net.PacketConn, error)

// TCPListenerFactory creates a TCP listener.
type TCPListenerFactory func(network, address string) (net.Listener, error)

// SyslogOption configures the SyslogIngestor.
type SyslogOption func(*SyslogIngestor)

// WithUDPListenerFactory sets a custom UDP listener factory.
func WithUDPListenerFactory(f UDPListenerFactory) SyslogOption {
	return func(s *SyslogIngestor) {
		s.udpFactory = f
	}
}

// WithTCPListenerFactory sets a custom TCP listener factory.
func WithTCPListenerFactory(f TCPListenerFactory) SyslogOption {
	return func(s *SyslogIngestor) {
		s.tcpFactory = f
	}
}

// SyslogIngestor receives syslog messages whose body is a JSON event, as
// written by `logger -t app '{"type":"custom",...}'`.
type SyslogIngestor struct {
	cfg        config.SyslogIngestorConfig
	name       string
	udpFactory UDPListenerFactory
	tcpFactory TCPListenerFactory
	logger     logger.ILogger
}

// NewSyslogIngestor creates a new syslog ingestor.
func NewSyslogIngestor(cfg config.SyslogIngestorConfig, log logger.ILogger, opts ...SyslogOption) *SyslogIngestor {
	s := &SyslogIngestor{
		cfg:    cfg,
		name:   "syslog",
		logger: log.SubLogger("SyslogIngestor"),
	}

	s.udpFactory = func(network, address string) (net.PacketConn, error) {
		addr, err := net.ResolveUDPAddr(network, address)
		if err != nil {
			return nil, err
		}
		return net.ListenUDP(network, addr)
	}
	s.tcpFactory = net.Listen

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the ingestor identifier.
func (s *SyslogIngestor) Name() string {
	return s.name
}

// Start begins listening for syslog messages.
func (s *SyslogIngestor) Start(ctx context.Context, out chan<- *model.Envelope) error {
	defer close(out)

	switch strings.ToLower(s.cfg.Protocol) {
	case "udp":
		return s.startUDP(ctx, out)
	case "tcp":
		return s.startTCP(ctx, out)
	default:
		return fmt.Errorf("unsupported syslog protocol: %s", s.cfg.Protocol)
	}
}

func (s *SyslogIngestor) startUDP(ctx context.Context, out chan<- *model.Envelope) error {
	conn, err := s.udpFactory("udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on UDP: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.logger.Infof("listening for syslog: protocol=udp, address=%s", conn.LocalAddr())

	buf := make([]byte, 65535) // Max UDP packet size
	for {
		n, remoteAddr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.Warningf("udp read error: %v", err)
				continue
			}
		}

		message := make([]byte, n)
		copy(message, buf[:n])

		env := s.envelope(message, "udp", remoteAddr.String())
		if err := send(ctx, out, env); err != nil {
			return err
		}
	}
}

func (s *SyslogIngestor) startTCP(ctx context.Context, out chan<- *model.Envelope) error {
	listener, err := s.tcpFactory("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on TCP: %w", err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Infof("listening for syslog: protocol=tcp, address=%s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.Warningf("tcp accept error: %v", err)
				continue
			}
		}

		go s.handleTCPConnection(ctx, conn, out)
	}
}

// handleTCPConnection reads newline-framed messages from one connection.
func (s *SyslogIngestor) handleTCPConnection(ctx context.Context, conn net.Conn, out chan<- *model.Envelope) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	remoteAddr := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		message := make([]byte, len(line))
		copy(message, line)

		if err := send(ctx, out, s.envelope(message, "tcp", remoteAddr)); err != nil {
			return
		}
	}
}

// envelope strips the syslog header and keeps the JSON body as Raw. Header
// fields go to metadata. Messages without a JSON body are passed through
// unchanged and rejected by the decoder.
func (s *SyslogIngestor) envelope(message []byte, protocol, remoteAddr string) *model.Envelope {
	env := model.NewEnvelope(s.name, message)
	env.Metadata["protocol"] = protocol
	env.Metadata["remote_addr"] = remoteAddr

	body := message
	if priority, rest, ok := parsePriority(message); ok {
		facility, severity := priority/8, priority%8
		env.Metadata["syslog_priority"] = strconv.Itoa(priority)
		env.Metadata["syslog_facility"] = facilityName(facility)
		env.Metadata["syslog_severity"] = severityName(severity)
		body = rest
	}
	if i := bytes.IndexByte(body, '{'); i >= 0 {
		if i > 0 {
			if tag := syslogTag(body[:i]); tag != "" {
				env.Metadata["syslog_tag"] = tag
			}
		}
		env.Raw = bytes.TrimSpace(body[i:])
	}
	return env
}

// parsePriority parses a leading "<PRI>".
func parsePriority(message []byte) (int, []byte, bool) {
	if len(message) == 0 || message[0] != '<' {
		return 0, message, false
	}
	end := bytes.IndexByte(message, '>')
	if end < 2 || end > 4 {
		return 0, message, false
	}
	priority, err := strconv.Atoi(string(message[1:end]))
	if err != nil || priority > 191 {
		return 0, message, false
	}
	return priority, message[end+1:], true
}

// syslogTag extracts the RFC 3164 tag ("app" or "app[123]") preceding the body.
func syslogTag(header []byte) string {
	h := strings.TrimSpace(string(header))
	if !strings.HasSuffix(h, ":") {
		return ""
	}
	fields := strings.Fields(strings.TrimSuffix(h, ":"))
	if len(fields) == 0 {
		return ""
	}
	tag := fields[len(fields)-1]
	if i := strings.IndexByte(tag, '['); i > 0 {
		tag = tag[:i]
	}
	return tag
}

func facilityName(facility int) string {
	names := []string{
		"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
		"uucp", "cron", "authpriv", "ftp", "ntp", "audit", "alert", "clock",
		"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
	}
	if facility >= 0 && facility < len(names) {
		return names[facility]
	}
	return "unknown"
}

func severityName(severity int) string {
	names := []string{
		"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug",
	}
	if severity >= 0 && severity < len(names) {
		return names[severity]
	}
	return "unknown"
}
