package tic

import "bytes"

// StreamUnframer locates STX..ETX frame boundaries and forwards payload
// bytes as they arrive, without any frame buffer. This is the on-the-fly
// emission mode: OnFrameBytes may fire any number of times per frame, each
// call carrying the next run of payload bytes in stream order, and
// OnFrameComplete fires once after the last of them.
//
// Because nothing is buffered there is no size cap and PushBytes always
// accepts every byte.
//
// Some historical meters start a new frame before terminating the previous
// one. An STX seen inside a frame therefore completes the current frame as
// if an ETX had been received, and opens the next frame immediately.
type StreamUnframer struct {
	// OnFrameBytes receives payload byte runs (markers excluded). The
	// slice aliases the caller's push buffer and is only valid for the
	// duration of the call. May be nil.
	OnFrameBytes func(p []byte)

	// OnFrameComplete fires exactly once per frame, after every
	// OnFrameBytes call belonging to that frame. May be nil.
	OnFrameComplete func()

	sync      bool
	frameSize int
	history   frameSizeRing
}

// NewStreamUnframer returns a forwarding unframer delivering frames to the
// given callbacks. Either callback may be nil.
func NewStreamUnframer(onFrameBytes func([]byte), onFrameComplete func()) *StreamUnframer {
	return &StreamUnframer{OnFrameBytes: onFrameBytes, OnFrameComplete: onFrameComplete}
}

// PushBytes feeds raw stream bytes to the unframer. It always returns
// len(p): with no internal buffer there is no overflow case.
func (u *StreamUnframer) PushBytes(p []byte) int {
	used := 0
	for len(p) > 0 {
		if !u.sync {
			i := bytes.IndexByte(p, STX)
			if i < 0 {
				return used + len(p)
			}
			used += i + 1
			p = p[i+1:]
			u.sync = true
			u.frameSize = 0
			continue
		}

		// Scan for whichever frame terminator comes first: ETX, or an
		// STX restarting the stream mid-frame.
		end := len(p)
		restart := false
		if i := bytes.IndexByte(p, ETX); i >= 0 {
			end = i
		}
		if i := bytes.IndexByte(p, STX); i >= 0 && i < end {
			end = i
			restart = true
		}

		if end == len(p) {
			u.emit(p)
			return used + len(p)
		}

		u.emit(p[:end])
		u.history.push(u.frameSize)
		if u.OnFrameComplete != nil {
			u.OnFrameComplete()
		}
		u.frameSize = 0
		u.sync = restart // an STX restart opens the next frame at once
		used += end + 1
		p = p[end+1:]
	}
	return used
}

// InSync reports whether the unframer is between an STX and its matching
// terminator.
func (u *StreamUnframer) InSync() bool {
	return u.sync
}

// Reset discards the in-progress frame and returns to the out-of-sync
// state. The frame-size history is preserved.
func (u *StreamUnframer) Reset() {
	u.sync = false
	u.frameSize = 0
}

// MaxFrameSizeFromRecentHistory returns the largest payload size among the
// last completed frames (up to 128 of them), or 0 before the first frame.
func (u *StreamUnframer) MaxFrameSizeFromRecentHistory() int {
	return u.history.max()
}

func (u *StreamUnframer) emit(p []byte) {
	if len(p) == 0 {
		return
	}
	u.frameSize += len(p)
	if u.OnFrameBytes != nil {
		u.OnFrameBytes(p)
	}
}
