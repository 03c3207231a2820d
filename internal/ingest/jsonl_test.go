package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/htpc-reduce/internal/db"
	"github.com/banshee-data/htpc-reduce/internal/event"
	"github.com/banshee-data/htpc-reduce/internal/storage/sqlite"
)

const twoEvents = `{"nsteps":2,"xp":[0,0],"yp":[0,0],"zp":[0,1],"ed":[1,1],"time":[0,1],"etot":2,"xp_pri":0,"yp_pri":0,"zp_pri":1}
{"event_index":7,"nsteps":1,"xp":[3],"yp":[4],"zp":[5],"ed":[0.5],"type":["gamma"],"pre_step_energy":[661.7],"xp_pri":1,"yp_pri":2,"zp_pri":3}
`

func TestReadJSONLines(t *testing.T) {
	var got []event.RawEvent
	n, err := ReadJSONLines(strings.NewReader(twoEvents), func(ev event.RawEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)

	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, []float64{0, 1}, got[0].Z)
	require.NotNil(t, got[0].TotalEnergy)
	assert.Equal(t, 2.0, *got[0].TotalEnergy)

	assert.Equal(t, 7, got[1].Index)
	assert.Nil(t, got[1].TotalEnergy)
	assert.Nil(t, got[1].Time)
	require.NotNil(t, got[1].Primary)
	assert.Equal(t, event.Vec3{X: 1, Y: 2, Z: 3}, *got[1].Primary)
	g, err := got[1].FirstGammaEnergy()
	require.NoError(t, err)
	assert.Equal(t, 661.7, g)
}

func TestReadJSONLines_MissingPrimary(t *testing.T) {
	lines := `{"nsteps":1,"xp":[0],"yp":[0],"zp":[5],"ed":[1]}
{"nsteps":1,"xp":[0],"yp":[0],"zp":[5],"ed":[1],"xp_pri":1,"yp_pri":2}
{"nsteps":1,"xp":[0],"yp":[0],"zp":[5],"ed":[1],"xp_pri":0,"yp_pri":0,"zp_pri":0}
`
	var got []event.RawEvent
	n, err := ReadJSONLines(strings.NewReader(lines), func(ev event.RawEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Nil(t, got[0].Primary, "no primary fields")
	assert.Nil(t, got[1].Primary, "zp_pri missing")
	require.NotNil(t, got[2].Primary, "explicit zeros are a real vertex")
	assert.Equal(t, event.Vec3{}, *got[2].Primary)
}

func TestImport_MissingPrimaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer d.Close()
	store := sqlite.NewEventStore(d.DB)

	line := `{"nsteps":1,"xp":[0],"yp":[0],"zp":[5],"ed":[1]}` + "\n"
	_, err = Import(ctx, strings.NewReader(line), store, 0)
	require.NoError(t, err)

	got, err := store.ReadRange(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Primary)
}

func TestReadJSONLines_Malformed(t *testing.T) {
	short := `{"nsteps":2,"xp":[0],"yp":[0,0],"zp":[0,1],"ed":[1,1]}`
	_, err := ReadJSONLines(strings.NewReader(short), func(event.RawEvent) error { return nil })
	assert.ErrorIs(t, err, event.ErrMalformed)

	_, err = ReadJSONLines(strings.NewReader(`{"nsteps":`), func(event.RawEvent) error { return nil })
	assert.Error(t, err)
}

type recordingWriter struct {
	batches [][]event.RawEvent
	err     error
}

func (w *recordingWriter) InsertEvents(_ context.Context, events []event.RawEvent) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]event.RawEvent(nil), events...))
	return nil
}

func TestImport_Batches(t *testing.T) {
	input := strings.Repeat(`{"nsteps":1,"xp":[0],"yp":[0],"zp":[0],"ed":[1],"xp_pri":0,"yp_pri":0,"zp_pri":0}`+"\n", 5)
	w := &recordingWriter{}

	n, err := Import(context.Background(), strings.NewReader(input), w, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[2], 1)
	assert.Equal(t, 4, w.batches[2][0].Index)
}

func TestImport_WriterError(t *testing.T) {
	boom := errors.New("boom")
	n, err := Import(context.Background(), strings.NewReader(twoEvents), &recordingWriter{err: boom}, 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, n)
}

func TestImport_IntoEventStore(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer d.Close()
	store := sqlite.NewEventStore(d.DB)

	n, err := Import(ctx, strings.NewReader(twoEvents), store, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := store.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	got, err := store.ReadRange(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Index)
	assert.Equal(t, []string{"gamma"}, got[0].SampleType)
}
