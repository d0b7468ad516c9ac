package tic

// Season is the tariff season encoded in a horodate's first byte.
type Season int

const (
	SeasonUnknown Season = iota
	SeasonWinter
	SeasonSummer
)

func (s Season) String() string {
	switch s {
	case SeasonWinter:
		return "winter"
	case SeasonSummer:
		return "summer"
	default:
		return "unknown"
	}
}

// Horodate is a decoded TIC timestamp: a season/clock-quality byte followed
// by six ASCII decimal pairs (YY MM DD hh mm ss, year offset from 2000).
//
// When Valid is false the fields that did parse are still populated, so a
// consumer can log a best-effort value.
type Horodate struct {
	Season   Season
	Degraded bool // meter clock running degraded (lowercase season char)
	Valid    bool

	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// ParseHorodate decodes a 13-byte horodate field. Any violation (wrong
// length, unknown season byte, non-digit, field out of range) clears Valid
// but keeps whatever parsed.
func ParseHorodate(p []byte) Horodate {
	var h Horodate
	if len(p) != HorodateLen {
		return h
	}
	ok := true
	switch p[0] {
	case 'H':
		h.Season = SeasonWinter
	case 'h':
		h.Season = SeasonWinter
		h.Degraded = true
	case 'E':
		h.Season = SeasonSummer
	case 'e':
		h.Season = SeasonSummer
		h.Degraded = true
	case ' ':
		h.Season = SeasonUnknown
	default:
		ok = false
	}

	var fields [6]int
	for i := range fields {
		hi, lo := p[1+2*i], p[2+2*i]
		if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
			ok = false
			continue
		}
		fields[i] = int(hi-'0')*10 + int(lo-'0')
	}
	h.Year = 2000 + fields[0]
	h.Month = fields[1]
	h.Day = fields[2]
	h.Hour = fields[3]
	h.Minute = fields[4]
	h.Second = fields[5]

	if h.Month < 1 || h.Month > 12 {
		ok = false
	}
	if h.Day < 1 || h.Day > 31 {
		ok = false
	}
	if h.Hour > 24 { // hour 24 passes: some meters emit 24:00 at rollover
		ok = false
	}
	if h.Minute > 59 {
		ok = false
	}
	if h.Second > 59 {
		ok = false
	}
	h.Valid = ok
	return h
}

// Compare orders two horodates by calendar and time of day: it returns -1
// if h is earlier than o, +1 if later, and 0 when they name the same
// instant. Season and the degraded-clock flag are ignored.
func (h Horodate) Compare(o Horodate) int {
	fields := [6][2]int{
		{h.Year, o.Year},
		{h.Month, o.Month},
		{h.Day, o.Day},
		{h.Hour, o.Hour},
		{h.Minute, o.Minute},
		{h.Second, o.Second},
	}
	for _, f := range fields {
		if f[0] < f[1] {
			return -1
		}
		if f[0] > f[1] {
			return 1
		}
	}
	return 0
}

// Equal reports whether h and o name the same instant. Season and the
// degraded-clock flag do not participate.
func (h Horodate) Equal(o Horodate) bool { return h.Compare(o) == 0 }

// Before reports whether h is earlier than o.
func (h Horodate) Before(o Horodate) bool { return h.Compare(o) < 0 }

// After reports whether h is later than o.
func (h Horodate) After(o Horodate) bool { return h.Compare(o) > 0 }
