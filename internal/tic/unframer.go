package tic

import "bytes"

// Unframer locates STX..ETX frame boundaries in a raw TIC byte stream and
// buffers each frame payload internally, emitting it whole once the frame
// terminates. This is the cached emission mode: the caller sees one
// OnFrameBytes call carrying the full payload, then OnFrameComplete.
//
// A frame payload larger than MaxFrameSize is truncated: the excess is
// dropped, PushBytes returns short, and the frame still completes on ETX
// with the bytes that fit.
//
// In this mode an STX seen inside a frame is ordinary payload; only ETX
// terminates a frame. StreamUnframer implements the restart-on-STX recovery
// instead.
type Unframer struct {
	// OnFrameBytes receives the full frame payload (markers excluded).
	// The slice aliases the internal buffer and is only valid for the
	// duration of the call. May be nil.
	OnFrameBytes func(p []byte)

	// OnFrameComplete fires exactly once per frame, after OnFrameBytes.
	// May be nil.
	OnFrameComplete func()

	sync    bool
	fill    int
	history frameSizeRing
	buf     [MaxFrameSize]byte
}

// NewUnframer returns a buffering unframer delivering frames to the given
// callbacks. Either callback may be nil.
func NewUnframer(onFrameBytes func([]byte), onFrameComplete func()) *Unframer {
	return &Unframer{OnFrameBytes: onFrameBytes, OnFrameComplete: onFrameComplete}
}

// PushBytes feeds raw stream bytes to the unframer and returns how many
// were accepted. The return value is short only when frame buffering
// overflowed; scanning still continues past the dropped bytes, so the
// caller may keep pushing the remainder of the stream.
func (u *Unframer) PushBytes(p []byte) int {
	used := 0
	for len(p) > 0 {
		if !u.sync {
			i := bytes.IndexByte(p, STX)
			if i < 0 {
				return used + len(p) // discard, still out of sync
			}
			used += i + 1 // skipped garbage plus the STX itself
			p = p[i+1:]
			u.sync = true
			continue
		}
		i := bytes.IndexByte(p, ETX)
		if i < 0 {
			return used + u.appendPayload(p)
		}
		used += u.appendPayload(p[:i])
		used++ // the ETX marker
		u.completeFrame()
		u.sync = false
		p = p[i+1:]
	}
	return used
}

// InSync reports whether the unframer is between an STX and its matching
// ETX.
func (u *Unframer) InSync() bool {
	return u.sync
}

// Reset discards any partially received frame and returns to the
// out-of-sync state. The frame-size history is preserved.
func (u *Unframer) Reset() {
	u.sync = false
	u.fill = 0
}

// MaxFrameSizeFromRecentHistory returns the largest payload size among the
// last completed frames (up to 128 of them), or 0 before the first frame.
func (u *Unframer) MaxFrameSizeFromRecentHistory() int {
	return u.history.max()
}

func (u *Unframer) appendPayload(p []byte) int {
	n := copy(u.buf[u.fill:], p)
	u.fill += n
	return n
}

func (u *Unframer) completeFrame() {
	u.history.push(u.fill)
	if u.OnFrameBytes != nil {
		u.OnFrameBytes(u.buf[:u.fill])
	}
	if u.OnFrameComplete != nil {
		u.OnFrameComplete()
	}
	u.fill = 0
}
