// Package testutil provides shared test helpers and event fixtures.
//
// Fixtures build event.RawEvent values with consistent parallel columns so
// tests across reduce, scatter and storage describe events the same way.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/htpc-reduce/internal/event"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// ZEvent builds an event whose steps lie on the z axis (x = y = 0) with the
// given deposits. Time is the step index.
func ZEvent(index int, z, energy []float64) event.RawEvent {
	n := len(z)
	ev := event.RawEvent{
		Index:         index,
		SampleCount:   n,
		X:             make([]float64, n),
		Y:             make([]float64, n),
		Z:             append([]float64(nil), z...),
		EnergyDeposit: append([]float64(nil), energy...),
		Time:          make([]float64, n),
		Primary:       &event.Vec3{Z: 1},
	}
	for i := range ev.Time {
		ev.Time[i] = float64(i)
	}
	return ev
}

// WithGamma adds type and pre-step energy columns to ev. types and
// preStep must have ev.SampleCount entries.
func WithGamma(ev event.RawEvent, types []string, preStep []float64) event.RawEvent {
	ev.SampleType = append([]string(nil), types...)
	ev.PreStepEnergy = append([]float64(nil), preStep...)
	return ev
}

// DepositingEvent is a single-cluster event that always survives reduction.
func DepositingEvent(index int) event.RawEvent {
	return ZEvent(index, []float64{0, 1}, []float64{1, 1})
}

// BlankEvent is an event whose steps deposit nothing, so it is always skipped.
func BlankEvent(index int) event.RawEvent {
	return ZEvent(index, []float64{0, 1}, []float64{0, 0})
}
