// Package meter folds decoded TIC datasets into a meter state snapshot.
//
// The decoder layers below surface raw labelled byte slices; this package
// is the downstream consumer that knows which labels matter, copies their
// values out of the borrowed buffers, and republishes an immutable snapshot
// for the HTTP, UDP, and metrics surfaces.
package meter

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"ticd/internal/tic"
)

// Unit classifies a well-known label's value for export.
type Unit int

const (
	UnitNone   Unit = iota // opaque text (contract names, registers)
	UnitWh                 // energy index
	UnitVA                 // apparent power
	UnitA                  // current
	UnitV                  // voltage
)

// wellKnown maps the labels the exporter understands, across both
// dialects. Labels outside this table are still tracked with UnitNone.
var wellKnown = map[string]Unit{
	// Historical TIC.
	"ADCO":   UnitNone,
	"BASE":   UnitWh,
	"HCHC":   UnitWh,
	"HCHP":   UnitWh,
	"PAPP":   UnitVA,
	"IINST":  UnitA,
	"IINST1": UnitA,
	"IINST2": UnitA,
	"IINST3": UnitA,
	"IMAX":   UnitA,
	"ISOUSC": UnitA,

	// Standard TIC (Linky).
	"ADSC":   UnitNone,
	"EAST":   UnitWh,
	"EASF01": UnitWh,
	"EASF02": UnitWh,
	"SINSTS": UnitVA,
	"SMAXSN": UnitVA,
	"IRMS1":  UnitA,
	"IRMS2":  UnitA,
	"IRMS3":  UnitA,
	"URMS1":  UnitV,
	"URMS2":  UnitV,
	"URMS3":  UnitV,
}

// Reading is the last observed value for one label.
type Reading struct {
	Label string `json:"label"`
	Text  string `json:"text"`

	// Value is the numeric form, present only when the data field is a
	// decimal number in range.
	Value   uint32 `json:"value,omitempty"`
	Numeric bool   `json:"numeric"`

	Horodate    string       `json:"horodate,omitempty"`
	HorodateRaw tic.Horodate `json:"-"`

	SeenUTC string `json:"seen_utc"`
}

// Counters accumulate over the life of the decode session.
type Counters struct {
	Frames          uint64 `json:"frames"`
	Datasets        uint64 `json:"datasets"`
	Malformed       uint64 `json:"malformed"`
	WrongCRC        uint64 `json:"wrong_crc"`
	InvalidHorodate uint64 `json:"invalid_horodate"`
}

// Snapshot is an immutable view of the meter state, safe to hand to other
// goroutines.
type Snapshot struct {
	Dialect  string             `json:"dialect,omitempty"`
	Readings map[string]Reading `json:"readings"`
	Counters Counters           `json:"counters"`
	MaxFrame int                `json:"max_frame_size"`
}

// State accumulates readings. Apply is driven from the single decoding
// goroutine; Snapshot may be called from any goroutine.
type State struct {
	readings map[string]Reading
	counters Counters
	dialect  string
	maxFrame int

	published atomic.Value // Snapshot
	now       func() time.Time
}

func NewState() *State {
	s := &State{
		readings: make(map[string]Reading),
		now:      time.Now,
	}
	s.publish()
	return s
}

// Apply folds one parsed dataset into the state. It copies label and data
// out of the view's borrowed slices before the extractor buffer is reused.
func (s *State) Apply(v tic.DatasetView) {
	s.counters.Datasets++
	switch v.Kind {
	case tic.Malformed:
		s.counters.Malformed++
		return
	case tic.WrongCRC:
		s.counters.WrongCRC++
		return
	case tic.ValidHistorical:
		s.dialect = "historical"
	case tic.ValidStandard:
		s.dialect = "standard"
	}

	r := Reading{
		Label:   string(v.Label),
		Text:    string(v.Data),
		SeenUTC: s.now().UTC().Format(time.RFC3339),
	}
	if n := v.DataU32(); n != math.MaxUint32 {
		r.Value = n
		r.Numeric = true
	}
	if v.HasHorodate {
		if !v.Horodate.Valid {
			s.counters.InvalidHorodate++
		}
		r.HorodateRaw = v.Horodate
		r.Horodate = formatHorodate(v.Horodate)
	}
	s.readings[r.Label] = r
}

// FrameDone marks a completed frame and republishes the snapshot. The max
// frame size comes from the unframer's history ring.
func (s *State) FrameDone(maxFrameSize int) {
	s.counters.Frames++
	s.maxFrame = maxFrameSize
	s.publish()
}

// Snapshot returns the last published state.
func (s *State) Snapshot() Snapshot {
	return s.published.Load().(Snapshot)
}

// UnitFor reports the export unit for a label.
func UnitFor(label string) Unit {
	return wellKnown[label]
}

func (s *State) publish() {
	snap := Snapshot{
		Dialect:  s.dialect,
		Readings: make(map[string]Reading, len(s.readings)),
		Counters: s.counters,
		MaxFrame: s.maxFrame,
	}
	for k, v := range s.readings {
		snap.Readings[k] = v
	}
	s.published.Store(snap)
}

func formatHorodate(h tic.Horodate) string {
	if h.Year == 0 {
		return ""
	}
	s := fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", h.Year, h.Month, h.Day, h.Hour, h.Minute, h.Second)
	if !h.Valid {
		s += "?"
	}
	return s
}
