package meter

import "ticd/internal/tic"

// unframer is the surface shared by the two emission modes.
type unframer interface {
	PushBytes(p []byte) int
	InSync() bool
	Reset()
	MaxFrameSizeFromRecentHistory() int
}

// Pipeline wires the full decode chain: unframer -> dataset extractor ->
// dataset parser -> State. It is the single writer of the State and must be
// driven from one goroutine; the published snapshots are what other
// goroutines read.
type Pipeline struct {
	state     *State
	unframer  unframer
	extractor *tic.DatasetExtractor
}

// Options selects the decode chain variants.
type Options struct {
	// Cached buffers whole frames in the unframer instead of forwarding
	// payload bytes as they arrive.
	Cached bool

	// LFTerminated enables the alternate historical end-marker set.
	LFTerminated bool
}

func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{state: NewState()}

	end := tic.EndOnCR
	if opts.LFTerminated {
		end = tic.EndOnCROrLF
	}
	p.extractor = tic.NewDatasetExtractor(end, func(ds []byte) {
		p.state.Apply(tic.ParseDataset(ds))
	})

	onBytes := func(b []byte) { p.extractor.PushBytes(b) }
	onComplete := func() {
		p.extractor.Reset()
		p.state.FrameDone(p.unframer.MaxFrameSizeFromRecentHistory())
	}
	if opts.Cached {
		p.unframer = tic.NewUnframer(onBytes, onComplete)
	} else {
		p.unframer = tic.NewStreamUnframer(onBytes, onComplete)
	}
	return p
}

// PushBytes feeds raw meter stream bytes through the chain.
func (p *Pipeline) PushBytes(b []byte) int {
	return p.unframer.PushBytes(b)
}

// Snapshot returns the last published meter state.
func (p *Pipeline) Snapshot() Snapshot {
	return p.state.Snapshot()
}

// InSync reports whether the unframer is currently inside a frame.
func (p *Pipeline) InSync() bool {
	return p.unframer.InSync()
}

// Reset discards partial frame and dataset state, e.g. after a serial
// reopen.
func (p *Pipeline) Reset() {
	p.unframer.Reset()
	p.extractor.Reset()
}
