package video

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// Pipeline wires one surface's damage tracking, color conversion,
// encoding, and rate governing together, consuming types.CapturedFrame
// and producing wire-ready RDPEGFX payloads. One Pipeline owns one
// surface (spec §3's SurfaceState).
type Pipeline struct {
	logger *slog.Logger

	surface types.SurfaceState
	tracker *Tracker
	convert Converter
	encoder *Encoder
	gov     *Governor
}

// Config selects the pipeline's codec and initial tuning. GstPipelineDesc
// must follow NewEncoder's appsrc/appsink naming convention.
type Config struct {
	SurfaceID       uint32
	Width, Height   int
	Codec           types.Codec
	Mode            QualityMode
	InitialFPS      int
	FullRectThreshold float64
	ForcedFullInterval time.Duration
	GstPipelineDesc string
}

// NewPipeline constructs a Pipeline for one surface.
func NewPipeline(logger *slog.Logger, cfg Config) (*Pipeline, error) {
	enc, err := NewEncoder(cfg.SurfaceID, cfg.Codec, cfg.Width, cfg.Height, cfg.GstPipelineDesc)
	if err != nil {
		return nil, fmt.Errorf("video: construct encoder: %w", err)
	}

	return &Pipeline{
		logger: logger,
		surface: types.SurfaceState{
			SurfaceID: cfg.SurfaceID,
			Width:     cfg.Width,
			Height:    cfg.Height,
			Codec:     cfg.Codec,
		},
		tracker: NewTracker(cfg.Width, cfg.Height, cfg.FullRectThreshold, cfg.ForcedFullInterval, 0),
		convert: NewScalarConverter(),
		encoder: enc,
		gov:     NewGovernor(cfg.Mode, cfg.InitialFPS),
	}, nil
}

// ProcessFrame runs one captured frame through damage detection, color
// conversion, encoding, and framing. It returns (nil, FrameHeader{}, false,
// nil) when the
// frame is suppressed — either the governor dropped it for pacing or the
// damage tracker found nothing to send — in which case the caller must
// not advance any sequence number (spec §4.2.1).
func (p *Pipeline) ProcessFrame(ctx context.Context, frame types.CapturedFrame) ([]byte, FrameHeader, bool, error) {
	if !p.gov.Admit(frame.CapturedAt) {
		return nil, FrameHeader{}, false, nil
	}

	regions := p.tracker.Scan(frame.Buffer.Data, frame.Stride, frame.DamageHint)
	if len(regions) == 0 {
		return nil, FrameHeader{}, false, nil
	}

	destRect := unionRegions(regions)
	forceIDR := p.gov.ShouldForceIDR()

	var encoded types.EncodedFrame
	var err error
	switch p.surface.Codec {
	case types.CodecAVC444:
		full := p.convert.ConvertTo444(frame.Buffer.Data, frame.Stride, frame.Width, frame.Height, frame.Format)
		encoded, err = p.encoder.EncodeAVC444(full, destRect, forceIDR)
	default:
		planes := p.convert.ConvertTo420(frame.Buffer.Data, frame.Stride, frame.Width, frame.Height, frame.Format)
		encoded, err = p.encoder.EncodeAVC420(planes, destRect, forceIDR)
	}
	if err != nil {
		return nil, FrameHeader{}, false, fmt.Errorf("video: encode: %w", err)
	}

	p.surface.HighestSeq = encoded.Seq
	p.surface.LastSentRects = []image.Rectangle{destRect.Rect}

	payload, hdr, err := BuildWireToSurface1(encoded)
	if err != nil {
		return nil, FrameHeader{}, false, fmt.Errorf("video: frame: %w", err)
	}

	p.logger.Debug("video: frame encoded",
		"surface_id", p.surface.SurfaceID,
		"seq", encoded.Seq,
		"type", encoded.Type,
		"bytes", len(payload),
		"idr", encoded.Type == types.FrameTypeIDR,
	)

	return payload, hdr, true, nil
}

// OnFrameAck advances the surface's acknowledged sequence and feeds
// ack-lag back into the governor.
func (p *Pipeline) OnFrameAck(ackedSeq uint64, queueDepth int, rtt time.Duration) {
	p.surface.LastAckedSeq = ackedSeq
	lag := int(p.surface.HighestSeq - ackedSeq)
	if lag < 0 {
		lag = 0
	}
	p.gov.ReportFeedback(lag, queueDepth, rtt)
}

// Close tears down the encoder.
func (p *Pipeline) Close() {
	p.encoder.Close()
}

func unionRegions(regions []types.DamageRegion) types.DamageRegion {
	r := regions[0].Rect
	for _, reg := range regions[1:] {
		r = r.Union(reg.Rect)
	}
	return types.DamageRegion{Rect: r}
}
