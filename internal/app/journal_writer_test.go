package app

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalWriterRecordAndRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewJournalWriter(fs, ".deepipe/var/journal.ndjson")
	w.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, w.Record(JournalEvent{
		ExecutionID: "01EXEC",
		Phase:       2,
		Event:       EventStatusChanged,
		FromStatus:  "pending",
		ToStatus:    "in_progress",
	}))
	require.NoError(t, w.Record(JournalEvent{
		ExecutionID: "01EXEC",
		Phase:       3,
		Event:       EventErrorRecorded,
		ErrorKind:   "transient",
		Message:     "connection reset",
	}))

	events, skipped, err := ReadJournal(fs, w.Path())
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, events, 2)

	assert.Equal(t, "2026-10-18T09:00:00Z", events[0].Ts)
	assert.Equal(t, "in_progress", events[0].ToStatus)
	assert.Equal(t, "transient", events[1].ErrorKind)

	phase3 := FilterByPhase(events, 3)
	require.Len(t, phase3, 1)
	assert.Equal(t, EventErrorRecorded, phase3[0].Event)
}

func TestJournalIsAppendOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "journal.ndjson"
	require.NoError(t, afero.WriteFile(fs, path, []byte(`{"phase":0,"event":"status_changed"}`+"\n"), 0o644))

	w := NewJournalWriter(fs, path)
	require.NoError(t, w.Record(JournalEvent{Phase: 1, Event: EventPhaseReset}))

	events, _, err := ReadJournal(fs, path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].Phase)
	assert.Equal(t, EventPhaseReset, events[1].Event)
}

func TestReadJournalMissingAndCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()

	events, skipped, err := ReadJournal(fs, "absent.ndjson")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 0, skipped)

	require.NoError(t, afero.WriteFile(fs, "bad.ndjson", []byte("{not json}\n\n{\"phase\":4}\n"), 0o644))
	events, skipped, err = ReadJournal(fs, "bad.ndjson")
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, events, 1)
	assert.Equal(t, 4, events[0].Phase)
}
