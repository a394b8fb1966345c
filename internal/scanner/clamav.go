package scanner

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"docvault/internal/config"
	"docvault/internal/model"
)

// clamd INSTREAM chunk size. The daemon accepts frames of up to
// StreamMaxLength; 8 KiB matches the reference client.
const instreamChunkSize = 8192

// ClamAV talks the clamd TCP protocol: null-terminated commands with a
// z prefix, content streamed as 4-byte big-endian length-prefixed chunks.
type ClamAV struct {
	addr    string
	timeout time.Duration
}

// NewClamAV returns an engine speaking to a clamd daemon.
func NewClamAV(cfg config.ClamAVConfig) *ClamAV {
	return &ClamAV{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		timeout: cfg.Timeout,
	}
}

// Scan streams content through clamd INSTREAM and parses the verdict.
func (c *ClamAV) Scan(ctx context.Context, r io.Reader) (*Report, error) {
	reply, err := c.roundTrip(ctx, "zINSTREAM\x00", r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrScanEngine, err)
	}

	switch {
	case strings.HasSuffix(reply, "OK"):
		return &Report{Verdict: model.VerdictClean, EngineVersion: c.version(ctx)}, nil
	case strings.HasSuffix(reply, "FOUND"):
		name := parseThreatName(reply)
		verdict := model.VerdictInfected
		// clamd reports heuristic matches under the Heuristics. prefix;
		// those are graded suspicious rather than infected.
		if strings.HasPrefix(name, "Heuristics.") {
			verdict = model.VerdictSuspicious
		}
		return &Report{
			Verdict: verdict,
			Threats: []model.ThreatDetail{{
				Name:        name,
				Type:        "virus",
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("Threat detected: %s", name),
			}},
			EngineVersion: c.version(ctx),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected clamd reply %q", model.ErrScanEngine, reply)
	}
}

// Ping checks daemon liveness with the PING command.
func (c *ClamAV) Ping(ctx context.Context) error {
	reply, err := c.roundTrip(ctx, "zPING\x00", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrScanEngine, err)
	}
	if reply != "PONG" {
		return fmt.Errorf("%w: unexpected ping reply %q", model.ErrScanEngine, reply)
	}
	return nil
}

// version queries the daemon version; failures degrade to "unknown"
// rather than failing the scan that asked.
func (c *ClamAV) version(ctx context.Context) string {
	reply, err := c.roundTrip(ctx, "zVERSION\x00", nil)
	if err != nil {
		return "unknown"
	}
	return reply
}

// roundTrip opens a connection, sends one command (streaming body as
// INSTREAM chunks when given), and reads the single reply line.
func (c *ClamAV) roundTrip(ctx context.Context, command string, body io.Reader) (string, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("dial clamd: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	if _, err := io.WriteString(conn, command); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}

	if body != nil {
		if err := writeChunks(conn, body); err != nil {
			return "", err
		}
	}

	reply, err := readReply(conn)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

// writeChunks streams the body as length-prefixed frames followed by the
// zero-length terminator.
func writeChunks(conn net.Conn, body io.Reader) error {
	buf := make([]byte, instreamChunkSize)
	frame := make([]byte, 4)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(frame, uint32(n))
			if _, werr := conn.Write(frame); werr != nil {
				return fmt.Errorf("write chunk length: %w", werr)
			}
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write chunk: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}
	}
	binary.BigEndian.PutUint32(frame, 0)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}
	return nil
}

// readReply reads until the null/newline terminator clamd appends.
func readReply(conn net.Conn) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			if buf[n-1] == 0 || buf[n-1] == '\n' {
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return strings.Trim(sb.String(), "\x00\n "), nil
}

// parseThreatName extracts the signature name from a FOUND reply, e.g.
// "stream: Eicar-Signature FOUND".
func parseThreatName(reply string) string {
	s := strings.TrimSuffix(reply, " FOUND")
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
