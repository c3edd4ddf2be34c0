// Package video implements the damage + encode stage of spec §4.2: damage
// tracking, color conversion, H.264 encoding (including the single-encoder
// AVC444 dual-subframe scheme), RDPEGFX framing, and the rate/quality
// governor.
package video

import (
	"hash/fnv"
	"image"
	"time"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// TileSize is the aligned tile edge used for the hash-based damage scan
// (spec §4.2.1: "typical tile 64x64").
const TileSize = 64

// DefaultFullRectThreshold is the fraction of dirty area above which the
// tracker degenerates to a single full-screen rectangle.
const DefaultFullRectThreshold = 0.75

// DefaultForcedFullInterval is how often a forced full rectangle clears
// accumulated codec drift, absent an explicit frame-count override.
const DefaultForcedFullInterval = 10 * time.Second

// Tracker accumulates per-tile content hashes across frames and emits the
// minimal set of changed rectangles. One Tracker is owned by one surface's
// encode pipeline; it is not safe for concurrent use.
type Tracker struct {
	width, height int

	prevHashes []uint64 // tile hash of the previously retained frame
	curHashes  []uint64 // scratch buffer, reused every Scan call

	fullRectThreshold float64
	forcedFullInterval time.Duration
	forcedFullFrames   int // if >0, forces a full rect every N frames instead of by wall clock

	lastForced     time.Time
	framesSinceLast int
	firstFrame     bool
}

// NewTracker creates a damage tracker for a width x height surface. A
// forcedFullFrames of 0 uses the wall-clock forcedFullInterval instead.
func NewTracker(width, height int, fullRectThreshold float64, forcedFullInterval time.Duration, forcedFullFrames int) *Tracker {
	if fullRectThreshold <= 0 {
		fullRectThreshold = DefaultFullRectThreshold
	}
	if forcedFullInterval <= 0 {
		forcedFullInterval = DefaultForcedFullInterval
	}
	tilesX := (width + TileSize - 1) / TileSize
	tilesY := (height + TileSize - 1) / TileSize
	return &Tracker{
		width:              width,
		height:             height,
		prevHashes:         make([]uint64, tilesX*tilesY),
		curHashes:          make([]uint64, tilesX*tilesY),
		fullRectThreshold:  fullRectThreshold,
		forcedFullInterval: forcedFullInterval,
		forcedFullFrames:   forcedFullFrames,
		lastForced:         time.Now(),
		firstFrame:         true,
	}
}

// tilesX/tilesY report the tile grid dimensions.
func (t *Tracker) tilesX() int { return (t.width + TileSize - 1) / TileSize }
func (t *Tracker) tilesY() int { return (t.height + TileSize - 1) / TileSize }

// Scan compares pix (BGRA/BGRx, stride bytes per row) against the
// previously retained frame and returns the minimal coalesced set of
// changed rectangles, unioned with any compositor-reported damage hints.
// An empty return means the frame should be suppressed entirely (spec
// §4.2.1's empty-frame suppression) — callers must not advance the
// graphics sequence number in that case.
func (t *Tracker) Scan(pix []byte, stride int, hints []image.Rectangle) []types.DamageRegion {
	tx, ty := t.tilesX(), t.tilesY()

	if t.firstFrame {
		t.firstFrame = false
		t.hashTiles(pix, stride)
		copy(t.prevHashes, t.curHashes)
		t.lastForced = time.Now()
		t.framesSinceLast = 0
		return []types.DamageRegion{{Rect: image.Rect(0, 0, t.width, t.height)}}
	}

	t.framesSinceLast++
	if t.forceFullDue() {
		t.hashTiles(pix, stride)
		copy(t.prevHashes, t.curHashes)
		t.lastForced = time.Now()
		t.framesSinceLast = 0
		return []types.DamageRegion{{Rect: image.Rect(0, 0, t.width, t.height)}}
	}

	t.hashTiles(pix, stride)

	dirty := make([]bool, tx*ty)
	dirtyCount := 0
	for i := range t.curHashes {
		if t.curHashes[i] != t.prevHashes[i] {
			dirty[i] = true
			dirtyCount++
		}
	}
	copy(t.prevHashes, t.curHashes)

	if dirtyCount == 0 && len(hints) == 0 {
		return nil
	}

	if float64(dirtyCount)/float64(len(dirty)) >= t.fullRectThreshold {
		return []types.DamageRegion{{Rect: image.Rect(0, 0, t.width, t.height)}}
	}

	regions := coalesce(dirty, tx, ty, t.width, t.height)
	regions = unionHints(regions, hints, t.width, t.height)

	if len(regions) == 0 {
		return nil
	}
	return regions
}

func (t *Tracker) forceFullDue() bool {
	if t.forcedFullFrames > 0 {
		return t.framesSinceLast >= t.forcedFullFrames
	}
	return time.Since(t.lastForced) >= t.forcedFullInterval
}

// hashTiles fills t.curHashes with a cheap content hash (FNV-1a over each
// tile's rows) of the current frame.
func (t *Tracker) hashTiles(pix []byte, stride int) {
	tx := t.tilesX()
	for ty := 0; ty*TileSize < t.height; ty++ {
		for txI := 0; txI < tx; txI++ {
			x0 := txI * TileSize
			y0 := ty * TileSize
			x1 := min(x0+TileSize, t.width)
			y1 := min(y0+TileSize, t.height)

			h := fnv.New64a()
			for y := y0; y < y1; y++ {
				rowStart := y*stride + x0*4
				rowEnd := y*stride + x1*4
				if rowStart >= len(pix) || rowEnd > len(pix) {
					continue
				}
				h.Write(pix[rowStart:rowEnd])
			}
			t.curHashes[ty*tx+txI] = h.Sum64()
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// coalesce merges dirty tiles into rectangles with a greedy
// horizontal-then-vertical pass: first it merges contiguous dirty tiles
// within a row into row-spans, then merges row-spans with identical
// horizontal extent across contiguous rows.
func coalesce(dirty []bool, tx, ty, width, height int) []types.DamageRegion {
	type span struct{ x0, x1, y int } // tile coordinates, x1 exclusive

	var spans []span
	for row := 0; row < ty; row++ {
		x := 0
		for x < tx {
			if !dirty[row*tx+x] {
				x++
				continue
			}
			start := x
			for x < tx && dirty[row*tx+x] {
				x++
			}
			spans = append(spans, span{x0: start, x1: x, y: row})
		}
	}

	used := make([]bool, len(spans))
	var regions []types.DamageRegion
	for i, s := range spans {
		if used[i] {
			continue
		}
		y0, y1 := s.y, s.y+1
		for {
			merged := false
			for j, s2 := range spans {
				if used[j] || j == i {
					continue
				}
				if s2.x0 == s.x0 && s2.x1 == s.x1 && s2.y == y1 {
					y1 = s2.y + 1
					used[j] = true
					merged = true
				}
			}
			if !merged {
				break
			}
		}
		used[i] = true

		px0 := s.x0 * TileSize
		px1 := min(s.x1*TileSize, width)
		py0 := s.y * TileSize
		py1 := min(y1*TileSize, height)
		regions = append(regions, types.DamageRegion{Rect: image.Rect(px0, py0, px1, py1)})
	}
	return regions
}

// unionHints adds compositor-reported damage rectangles that are not
// already covered by a hash-derived region (compositor hints can
// under-report, never over-report, so they are unioned in rather than
// trusted exclusively — spec §4.2.1).
func unionHints(regions []types.DamageRegion, hints []image.Rectangle, width, height int) []types.DamageRegion {
	bounds := image.Rect(0, 0, width, height)
	for _, h := range hints {
		h = h.Intersect(bounds)
		if h.Empty() {
			continue
		}
		covered := false
		for _, r := range regions {
			if h.In(r.Rect) {
				covered = true
				break
			}
		}
		if !covered {
			regions = append(regions, types.DamageRegion{Rect: h})
		}
	}
	return regions
}
