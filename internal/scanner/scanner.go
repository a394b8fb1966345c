// Package scanner submits content to a threat-scanning engine and maps
// scan outcomes onto document lifecycle state.
package scanner

import (
	"context"
	"io"

	"docvault/internal/model"
)

// Report is one engine verdict over a content stream.
type Report struct {
	Verdict       model.ScanVerdict
	Threats       []model.ThreatDetail
	EngineVersion string
}

// Engine is the scan engine contract. Scan returns an error only for
// engine-level failures (unreachable daemon, protocol error, timeout);
// such failures are retryable and are never treated as a clean verdict.
type Engine interface {
	Scan(ctx context.Context, r io.Reader) (*Report, error)
	Ping(ctx context.Context) error
}

// disabledEngine reports every stream clean. Used when scanning is turned
// off by configuration, e.g. in local development.
type disabledEngine struct{}

// NewDisabled returns an engine that skips scanning entirely.
func NewDisabled() Engine {
	return disabledEngine{}
}

func (disabledEngine) Scan(ctx context.Context, r io.Reader) (*Report, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return &Report{Verdict: model.VerdictClean, EngineVersion: "disabled"}, nil
}

func (disabledEngine) Ping(context.Context) error { return nil }
