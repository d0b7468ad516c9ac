package tic

import (
	"bytes"
	"testing"
)

// buildFrame wraps already-built datasets in STX..ETX.
func buildFrame(datasets ...[]byte) []byte {
	frame := []byte{STX}
	for _, ds := range datasets {
		frame = append(frame, ds...)
	}
	return append(frame, ETX)
}

// historicalCapture synthesizes a continuous capture in the manner of a
// 1200-baud historical Linky: the same frame repeated, with line noise
// before the first STX.
func historicalCapture(frames int) ([]byte, []int) {
	datasets := [][]byte{
		buildHistoricalDataset("ADCO", "812345678901"),
		buildHistoricalDataset("OPTARIF", "BASE"),
		buildHistoricalDataset("ISOUSC", "30"),
		buildHistoricalDataset("BASE", "050022816"),
		buildHistoricalDataset("PTEC", "TH.."),
		buildHistoricalDataset("IINST", "008"),
		buildHistoricalDataset("IMAX", "090"),
		buildHistoricalDataset("PAPP", "01890"),
		buildHistoricalDataset("HHPHC", "A"),
		buildHistoricalDataset("MOTDETAT", "000000"),
	}
	sizes := make([]int, len(datasets))
	for i, ds := range datasets {
		sizes[i] = len(ds) - 2 // payload between LF and CR
	}
	capture := []byte{0x00, 0x7F, 0x20} // noise before the first frame
	frame := buildFrame(datasets...)
	for i := 0; i < frames; i++ {
		capture = append(capture, frame...)
	}
	return capture, sizes
}

// standardCapture synthesizes a standard-dialect capture with horodated
// datasets.
func standardCapture(frames int) ([]byte, []int) {
	datasets := [][]byte{
		buildStandardDataset("ADSC", "", "812345678901"),
		buildStandardDataset("VTIC", "", "02"),
		buildStandardDataset("DATE", "E220817142259", ""),
		buildStandardDataset("NGTF", "", "TEMPO"),
		buildStandardDataset("EAST", "", "002565285"),
		buildStandardDataset("SINSTS", "", "01890"),
		buildStandardDataset("SMAXSN", "E220817082014", "02980"),
		buildStandardDataset("PRM", "", "12345678901234"),
		buildStandardDataset("RELAIS", "", "000"),
	}
	sizes := make([]int, len(datasets))
	for i, ds := range datasets {
		sizes[i] = len(ds) - 2
	}
	var capture []byte
	frame := buildFrame(datasets...)
	for i := 0; i < frames; i++ {
		capture = append(capture, frame...)
	}
	return capture, sizes
}

// chain wires the full decode pipeline the way a consumer would: unframer
// payload bytes feed the extractor, frame completion resets it.
type chain struct {
	extractor *DatasetExtractor
	datasets  [][]byte
	frames    int
	frameLens []int
	frameLen  int
}

func newChain(end EndMarkers) *chain {
	c := &chain{}
	c.extractor = NewDatasetExtractor(end, func(p []byte) {
		c.datasets = append(c.datasets, append([]byte(nil), p...))
	})
	return c
}

func (c *chain) onFrameBytes(p []byte) {
	c.frameLen += len(p)
	c.extractor.PushBytes(p)
}

func (c *chain) onFrameComplete() {
	c.frames++
	c.frameLens = append(c.frameLens, c.frameLen)
	c.frameLen = 0
	c.extractor.Reset()
}

func pushChunked(t *testing.T, push func([]byte) int, stream []byte, chunk int) {
	t.Helper()
	for off := 0; off < len(stream); off += chunk {
		end := off + chunk
		if end > len(stream) {
			end = len(stream)
		}
		if used := push(stream[off:end]); used != end-off {
			t.Fatalf("chunk=%d at %d: used %d want %d", chunk, off, used, end-off)
		}
	}
}

// Chunk independence: for every chunk size, the emission sequence matches
// the all-at-once run, for both emission modes and both dialect captures.
func TestChain_ChunkIndependence(t *testing.T) {
	captures := map[string][]byte{}
	captures["historical"], _ = historicalCapture(6)
	captures["standard"], _ = standardCapture(3)

	for name, capture := range captures {
		t.Run(name, func(t *testing.T) {
			ref := newChain(EndOnCR)
			refU := NewStreamUnframer(ref.onFrameBytes, ref.onFrameComplete)
			refU.PushBytes(capture)

			for chunk := 1; chunk <= 128; chunk++ {
				c := newChain(EndOnCR)
				u := NewStreamUnframer(c.onFrameBytes, c.onFrameComplete)
				pushChunked(t, u.PushBytes, capture, chunk)
				assertSameDatasets(t, chunk, c, ref)

				cc := newChain(EndOnCR)
				cu := NewUnframer(cc.onFrameBytes, cc.onFrameComplete)
				pushChunked(t, cu.PushBytes, capture, chunk)
				assertSameDatasets(t, chunk, cc, ref)
			}
		})
	}
}

func assertSameDatasets(t *testing.T, chunk int, got, want *chain) {
	t.Helper()
	if got.frames != want.frames {
		t.Fatalf("chunk=%d: frame count %d want %d", chunk, got.frames, want.frames)
	}
	if len(got.datasets) != len(want.datasets) {
		t.Fatalf("chunk=%d: dataset count %d want %d", chunk, len(got.datasets), len(want.datasets))
	}
	for i := range want.datasets {
		if !bytes.Equal(got.datasets[i], want.datasets[i]) {
			t.Fatalf("chunk=%d: dataset %d mismatch:\ngot  % X\nwant % X",
				chunk, i, got.datasets[i], want.datasets[i])
		}
	}
}

func TestChain_HistoricalCaptureContents(t *testing.T) {
	const frames = 6
	capture, sizes := historicalCapture(frames)

	c := newChain(EndOnCR)
	u := NewUnframer(c.onFrameBytes, c.onFrameComplete)
	u.PushBytes(capture)

	if c.frames != frames {
		t.Fatalf("frame count: got %d want %d", c.frames, frames)
	}
	for i, l := range c.frameLens {
		if l != c.frameLens[0] {
			t.Fatalf("frame %d payload size %d differs from %d", i, l, c.frameLens[0])
		}
	}
	if got, want := len(c.datasets), frames*len(sizes); got != want {
		t.Fatalf("dataset count: got %d want %d", got, want)
	}
	for i, ds := range c.datasets {
		if want := sizes[i%len(sizes)]; len(ds) != want {
			t.Fatalf("dataset %d size: got %d want %d (% X)", i, len(ds), want, ds)
		}
	}
	if got := u.MaxFrameSizeFromRecentHistory(); got != c.frameLens[0] {
		t.Fatalf("history max: got %d want %d", got, c.frameLens[0])
	}

	// Every extracted dataset must parse as valid historical.
	for i, ds := range c.datasets {
		v := ParseDataset(ds)
		if v.Kind != ValidHistorical {
			t.Fatalf("dataset %d: kind %v (% X)", i, v.Kind, ds)
		}
	}
}

func TestChain_StandardCaptureContents(t *testing.T) {
	const frames = 12
	capture, sizes := standardCapture(frames)

	c := newChain(EndOnCR)
	u := NewStreamUnframer(c.onFrameBytes, c.onFrameComplete)
	u.PushBytes(capture)

	if c.frames != frames {
		t.Fatalf("frame count: got %d want %d", c.frames, frames)
	}
	if got, want := len(c.datasets), frames*len(sizes); got != want {
		t.Fatalf("dataset count: got %d want %d", got, want)
	}
	horodated := 0
	for i, ds := range c.datasets {
		v := ParseDataset(ds)
		if v.Kind != ValidStandard {
			t.Fatalf("dataset %d: kind %v (% X)", i, v.Kind, ds)
		}
		if v.HasHorodate {
			horodated++
		}
	}
	if want := frames * 2; horodated != want { // DATE and SMAXSN carry horodates
		t.Fatalf("horodated dataset count: got %d want %d", horodated, want)
	}
}

// The concatenation of emitted payload bytes equals the bytes strictly
// between the frame markers, in both modes.
func TestChain_PayloadConcatenationInvariant(t *testing.T) {
	capture, _ := historicalCapture(2)
	frameStart := bytes.IndexByte(capture, STX)
	frameEnd := bytes.IndexByte(capture, ETX)
	wantFirst := capture[frameStart+1 : frameEnd]

	for _, mode := range []string{"cached", "stream"} {
		var rec frameRecorder
		var push func([]byte) int
		switch mode {
		case "cached":
			push = NewUnframer(rec.onBytes, rec.onComplete).PushBytes
		case "stream":
			push = NewStreamUnframer(rec.onBytes, rec.onComplete).PushBytes
		}
		pushChunked(t, push, capture, 7)
		if len(rec.frames) != 2 {
			t.Fatalf("%s: frame count %d want 2", mode, len(rec.frames))
		}
		if !bytes.Equal(rec.frames[0], wantFirst) {
			t.Fatalf("%s: first frame payload mismatch", mode)
		}
	}
}
