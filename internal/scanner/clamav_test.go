package scanner

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/config"
	"docvault/internal/model"
)

// startFakeClamd runs a minimal clamd that understands zPING, zVERSION and
// zINSTREAM and answers INSTREAM with the given reply.
func startFakeClamd(t *testing.T, instreamReply string) config.ClamAVConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				cmd := readCommand(conn)
				switch cmd {
				case "zPING":
					conn.Write([]byte("PONG\x00"))
				case "zVERSION":
					conn.Write([]byte("ClamAV 1.2.0/27000\x00"))
				case "zINSTREAM":
					drainChunks(conn)
					conn.Write([]byte(instreamReply + "\x00"))
				default:
					conn.Write([]byte("UNKNOWN COMMAND\x00"))
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return config.ClamAVConfig{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		Timeout: 2 * time.Second,
	}
}

func readCommand(conn net.Conn) string {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return sb.String()
		}
		if buf[0] == 0 {
			return sb.String()
		}
		sb.WriteByte(buf[0])
	}
}

func drainChunks(conn net.Conn) {
	frame := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(frame)
		if n == 0 {
			return
		}
		if _, err := io.CopyN(io.Discard, conn, int64(n)); err != nil {
			return
		}
	}
}

func TestClamAVScanClean(t *testing.T) {
	cfg := startFakeClamd(t, "stream: OK")
	engine := NewClamAV(cfg)

	report, err := engine.Scan(context.Background(), strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictClean, report.Verdict)
	assert.Empty(t, report.Threats)
	assert.Equal(t, "ClamAV 1.2.0/27000", report.EngineVersion)
}

func TestClamAVScanInfected(t *testing.T) {
	cfg := startFakeClamd(t, "stream: Eicar-Signature FOUND")
	engine := NewClamAV(cfg)

	report, err := engine.Scan(context.Background(), strings.NewReader("X5O!P%@AP"))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInfected, report.Verdict)
	require.Len(t, report.Threats, 1)
	assert.Equal(t, "Eicar-Signature", report.Threats[0].Name)
	assert.Equal(t, model.SeverityHigh, report.Threats[0].Severity)
}

func TestClamAVScanHeuristicIsSuspicious(t *testing.T) {
	cfg := startFakeClamd(t, "stream: Heuristics.Encrypted.Zip FOUND")
	engine := NewClamAV(cfg)

	report, err := engine.Scan(context.Background(), strings.NewReader("zipzip"))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictSuspicious, report.Verdict)
	require.Len(t, report.Threats, 1)
	assert.Equal(t, "Heuristics.Encrypted.Zip", report.Threats[0].Name)
}

func TestClamAVScanUnexpectedReply(t *testing.T) {
	cfg := startFakeClamd(t, "INSTREAM size limit exceeded. ERROR")
	engine := NewClamAV(cfg)

	_, err := engine.Scan(context.Background(), strings.NewReader("big"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrScanEngine)
}

func TestClamAVScanDaemonUnreachable(t *testing.T) {
	engine := NewClamAV(config.ClamAVConfig{Host: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond})

	_, err := engine.Scan(context.Background(), strings.NewReader("data"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrScanEngine)
}

func TestClamAVPing(t *testing.T) {
	cfg := startFakeClamd(t, "stream: OK")
	engine := NewClamAV(cfg)

	require.NoError(t, engine.Ping(context.Background()))
}

func TestParseThreatName(t *testing.T) {
	assert.Equal(t, "Eicar-Signature", parseThreatName("stream: Eicar-Signature FOUND"))
	assert.Equal(t, "Win.Test.EICAR_HDB-1", parseThreatName("Win.Test.EICAR_HDB-1 FOUND"))
}

func TestDisabledEngineReportsClean(t *testing.T) {
	engine := NewDisabled()

	report, err := engine.Scan(context.Background(), strings.NewReader("anything"))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictClean, report.Verdict)
	assert.Equal(t, "disabled", report.EngineVersion)
	require.NoError(t, engine.Ping(context.Background()))
}
