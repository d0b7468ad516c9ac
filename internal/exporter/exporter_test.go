package exporter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticd/internal/meter"
	"ticd/internal/tic"
)

func sampleSnapshot(t *testing.T) meter.Snapshot {
	t.Helper()
	s := meter.NewState()
	s.Apply(tic.ParseDataset(histDataset("PAPP", "01890")))
	s.Apply(tic.ParseDataset(histDataset("IINST", "008")))
	s.Apply(tic.ParseDataset([]byte("ADSC\t012345678901\tJ"))) // wrong CRC
	s.FrameDone(233)
	return s.Snapshot()
}

func histDataset(label, data string) []byte {
	body := label + " " + data
	var sum byte
	for i := 0; i < len(body); i++ {
		sum += body[i]
	}
	return append([]byte(body+" "), (sum&0x3F)+0x20)
}

func TestCollector_GathersReadings(t *testing.T) {
	snap := sampleSnapshot(t)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(func() meter.Snapshot { return snap })))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetGauge() != nil:
				byName[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				byName[key] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 1890.0, byName["tic_reading{label=PAPP}{unit=VA}"])
	assert.Equal(t, 8.0, byName["tic_reading{label=IINST}{unit=A}"])
	assert.Equal(t, 1.0, byName["tic_frames_total"])
	assert.Equal(t, 3.0, byName["tic_datasets_total"])
	assert.Equal(t, 1.0, byName["tic_decode_errors_total{reason=wrong_crc}"])
	assert.Equal(t, 233.0, byName["tic_max_frame_bytes"])
}

func TestHandler_StatusEndpoint(t *testing.T) {
	snap := sampleSnapshot(t)
	h, err := Handler(func() meter.Snapshot { return snap }, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got meter.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, snap.Counters, got.Counters)
	assert.Contains(t, got.Readings, "PAPP")
}

func TestHandler_StatusRejectsPost(t *testing.T) {
	h, err := Handler(func() meter.Snapshot { return meter.Snapshot{} }, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_MetricsEndpoint(t *testing.T) {
	snap := sampleSnapshot(t)
	h, err := Handler(func() meter.Snapshot { return snap }, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "tic_reading")
	assert.Contains(t, body, `label="PAPP"`)
	assert.Contains(t, body, "tic_frames_total 1")
}
