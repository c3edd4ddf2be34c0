// Encoder wraps a GStreamer (go-gst) software/hardware H.264 encoder,
// grounded on api/pkg/desktop/gst_pipeline.go's GstPipeline (appsrc-in,
// appsink-out, non-blocking frame delivery) and h264_sps.go (mp4ff-based
// SPS parsing for the parameter-set cache).
package video

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() { gst.Init(nil) })
}

// nalStartCode is the Annex-B start code prefix GStreamer's h264parse
// emits between NAL units.
var nalStartCode = []byte{0, 0, 0, 1}

// ParamSetCache retains the most recently seen SPS/PPS NAL units so a
// frame can be tagged with the parameter sets a client needs to decode it
// without resending them on every IDR (spec §4.2.3).
type ParamSetCache struct {
	mu  sync.Mutex
	sps []byte
	pps []byte
}

func NewParamSetCache() *ParamSetCache { return &ParamSetCache{} }

// Observe scans Annex-B encoded data for SPS (type 7) / PPS (type 8) NAL
// units and retains the latest of each.
func (c *ParamSetCache) Observe(annexB []byte) {
	for _, nal := range splitNALs(annexB) {
		if len(nal) == 0 {
			continue
		}
		nalType := nal[0] & 0x1f
		c.mu.Lock()
		switch nalType {
		case 7:
			c.sps = append([]byte(nil), nal...)
		case 8:
			c.pps = append([]byte(nil), nal...)
		}
		c.mu.Unlock()
	}
}

func (c *ParamSetCache) Current() (sps, pps []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sps, c.pps
}

// splitNALs breaks Annex-B byte-stream data into individual NAL units
// (start code stripped).
func splitNALs(annexB []byte) [][]byte {
	var nals [][]byte
	idx := 0
	for idx < len(annexB) {
		start := bytes.Index(annexB[idx:], nalStartCode)
		if start < 0 {
			break
		}
		start += idx
		next := bytes.Index(annexB[start+4:], nalStartCode)
		var end int
		if next < 0 {
			end = len(annexB)
		} else {
			end = start + 4 + next
		}
		nals = append(nals, annexB[start+4:end])
		idx = end
	}
	return nals
}

// MaxRefFrames reports the SPS's max_num_ref_frames, used to decide
// whether the decoder-side reference marking the governor assumes (spec
// §9 open question) is actually available; callers that cannot determine
// this tolerate either case rather than asserting on it.
func MaxRefFrames(sps []byte) (uint, bool) {
	parsed, err := avc.ParseSPSNALUnit(sps, true)
	if err != nil {
		return 0, false
	}
	return parsed.NumRefFrames, true
}

// Encoder is one logical H.264 encoder. For AVC420 it encodes a single
// 4:2:0 stream. For AVC444 it is still ONE encoder instance — per spec
// §4.2.3's critical correctness property, it alternates feeding the main
// and auxiliary 4:2:0 subframe views into the same GStreamer pipeline so
// both share one decoded-picture buffer; callers must not construct two
// separate Encoders for the two AVC444 views.
type Encoder struct {
	codec  types.Codec
	width  int
	height int

	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink
	encElem  *gst.Element // optional, named "enc" in pipelineDescription; enables forceIDR

	params *ParamSetCache

	frameCh  chan rawEncoded
	running  atomic.Bool
	seq      uint64
	surfaceID uint32
}

type rawEncoded struct {
	data       []byte
	isKeyframe bool
	pts        time.Time
}

// NewEncoder builds and starts a GStreamer encode pipeline for one
// surface. pipelineDescription follows gst_pipeline.go's convention of an
// appsrc-in/appsink-out string (e.g.
// "appsrc name=videosrc ! videoconvert ! x264enc tune=zerolatency ! h264parse config-interval=-1 ! appsink name=videosink").
func NewEncoder(surfaceID uint32, codec types.Codec, width, height int, pipelineDescription string) (*Encoder, error) {
	initGStreamer()

	pipeline, err := gst.NewPipelineFromString(pipelineDescription)
	if err != nil {
		return nil, fmt.Errorf("parse encoder pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("videosrc")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("get appsrc element: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("videosink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("get appsink element: %w", err)
	}

	appsrc := app.SrcFromElement(srcElem)
	appsink := app.SinkFromElement(sinkElem)
	if appsrc == nil || appsink == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("videosrc/videosink are not app elements")
	}

	// "enc" is an optional named element (the actual x264enc/nvh264enc/etc.)
	// that, if present, lets EncodeAVC420/EncodeAVC444 force an IDR by
	// momentarily dropping its keyframe interval to 1. Pipelines that omit
	// it still work; forceIDR is then a no-op.
	encElem, _ := pipeline.GetElementByName("enc")

	e := &Encoder{
		codec:     codec,
		width:     width,
		height:    height,
		pipeline:  pipeline,
		appsrc:    appsrc,
		appsink:   appsink,
		encElem:   encElem,
		params:    NewParamSetCache(),
		frameCh:   make(chan rawEncoded, 4),
		surfaceID: surfaceID,
	}

	appsink.SetProperty("emit-signals", true)
	appsink.SetProperty("max-buffers", uint(2))
	appsink.SetProperty("drop", true)
	appsink.SetProperty("sync", false)
	appsink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: e.onNewSample})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start encoder pipeline: %w", err)
	}
	e.running.Store(true)

	return e, nil
}

func (e *Encoder) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !e.running.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	defer buffer.Unmap()

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())

	isKeyframe := !buffer.HasFlags(gst.BufferFlagDeltaUnit)

	select {
	case e.frameCh <- rawEncoded{data: data, isKeyframe: isKeyframe, pts: time.Now()}:
	default:
	}
	return gst.FlowOK
}

// pushYUV pushes one I420 plane set into the encoder's appsrc, honoring
// forceIDR by momentarily collapsing the encoder's keyframe interval.
func (e *Encoder) pushYUV(planes YUVPlanes, forceIDR bool) error {
	size := len(planes.Y) + len(planes.U) + len(planes.V)
	buf := gst.NewBufferWithSize(size)
	if buf == nil {
		return fmt.Errorf("allocate gst buffer")
	}
	mapInfo := buf.Map(gst.MapWrite)
	if mapInfo != nil {
		data := mapInfo.Bytes()
		n := copy(data, planes.Y)
		n += copy(data[n:], planes.U)
		copy(data[n:], planes.V)
	}
	buf.Unmap()

	if forceIDR && e.encElem != nil {
		e.encElem.SetProperty("key-int-max", uint(1))
		defer e.encElem.SetProperty("key-int-max", uint(250))
	}

	return e.appsrc.PushBuffer(buf)
}

// EncodeAVC420 pushes one frame through a single-view 4:2:0 pipeline and
// waits for its encoded output.
func (e *Encoder) EncodeAVC420(planes YUVPlanes, destRect types.DamageRegion, forceIDR bool) (types.EncodedFrame, error) {
	if err := e.pushYUV(planes, forceIDR); err != nil {
		return types.EncodedFrame{}, err
	}
	raw := <-e.frameCh
	e.params.Observe(raw.data)
	sps, pps := e.params.Current()

	e.seq++
	ft := types.FrameTypeP
	if raw.isKeyframe {
		ft = types.FrameTypeIDR
	}
	return types.EncodedFrame{
		Seq:       e.seq,
		Type:      ft,
		Codec:     types.CodecAVC420,
		Main:      raw.data,
		SurfaceID: e.surfaceID,
		DestRect:  destRect.Rect,
		SPS:       sps,
		PPS:       pps,
		EncodedAt: raw.pts,
	}, nil
}

// EncodeAVC444 alternates the main and auxiliary subframe views through
// THIS SAME encoder instance/pipeline — never a second Encoder — so both
// subframes share one DPB, per spec §4.2.3. If the auxiliary push fails
// to produce a decodable frame, the frame is retried as a forced IDR
// rather than dropped (an encoder that loses sync on one subframe of a
// pair must resynchronize both).
func (e *Encoder) EncodeAVC444(full YUVPlanes, destRect types.DamageRegion, forceIDR bool) (types.EncodedFrame, error) {
	main, aux := SplitAVC444Subframes(full)

	if err := e.pushYUV(main, forceIDR); err != nil {
		return types.EncodedFrame{}, fmt.Errorf("push AVC444 main view: %w", err)
	}
	mainRaw := <-e.frameCh

	if err := e.pushYUV(aux, false); err != nil {
		if !forceIDR {
			return e.EncodeAVC444(full, destRect, true)
		}
		return types.EncodedFrame{}, fmt.Errorf("push AVC444 aux view: %w", err)
	}
	auxRaw := <-e.frameCh

	e.params.Observe(mainRaw.data)
	sps, pps := e.params.Current()

	e.seq++
	ft := types.FrameTypeP
	if mainRaw.isKeyframe {
		ft = types.FrameTypeIDR
	}
	return types.EncodedFrame{
		Seq:       e.seq,
		Type:      ft,
		Codec:     types.CodecAVC444,
		Main:      mainRaw.data,
		Aux:       auxRaw.data,
		SurfaceID: e.surfaceID,
		DestRect:  destRect.Rect,
		SPS:       sps,
		PPS:       pps,
		EncodedAt: mainRaw.pts,
	}, nil
}

// Close stops the pipeline.
func (e *Encoder) Close() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.pipeline.SetState(gst.StateNull)
	close(e.frameCh)
}
