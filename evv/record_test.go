package evv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddFlag_RemovesCompliantMarker(t *testing.T) {
	r := &Record{ComplianceFlags: []ComplianceFlag{FlagCompliant}}

	r.AddFlag(FlagGeofenceVariance)
	require.Equal(t, []ComplianceFlag{FlagGeofenceVariance}, r.ComplianceFlags)

	// idempotent
	r.AddFlag(FlagGeofenceVariance)
	require.Len(t, r.ComplianceFlags, 1)
}

func TestAddFlag_CompliantDoesNotDisplace(t *testing.T) {
	r := &Record{ComplianceFlags: []ComplianceFlag{FlagTimeGap}}
	r.AddFlag(FlagCompliant)
	require.Contains(t, r.ComplianceFlags, FlagTimeGap)
}

func completeRecord(in time.Time, pauses []PauseEvent) *Record {
	out := in.Add(4 * time.Hour)
	return &Record{
		ID: "r-1", ClockInAt: in, ClockOutAt: &out, Pauses: pauses,
		Status:               StatusComplete,
		ClockOutVerification: &Verification{DeviceTimestamp: out},
	}
}

func TestCheckInvariants_ValidRecord(t *testing.T) {
	in := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	r := completeRecord(in, []PauseEvent{
		{PausedAt: in.Add(time.Hour), ResumedAt: in.Add(90 * time.Minute)},
		{PausedAt: in.Add(2 * time.Hour), ResumedAt: in.Add(150 * time.Minute)},
	})
	require.NoError(t, r.CheckInvariants())
}

func TestCheckInvariants_PendingRecordUnchecked(t *testing.T) {
	r := &Record{Status: StatusPending}
	require.NoError(t, r.CheckInvariants())
}

func TestCheckInvariants_OpenPauseRejected(t *testing.T) {
	in := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	r := completeRecord(in, []PauseEvent{{PausedAt: in.Add(time.Hour)}})
	require.Error(t, r.CheckInvariants())
}

func TestCheckInvariants_OverlappingPausesRejected(t *testing.T) {
	in := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	r := completeRecord(in, []PauseEvent{
		{PausedAt: in.Add(time.Hour), ResumedAt: in.Add(2 * time.Hour)},
		{PausedAt: in.Add(90 * time.Minute), ResumedAt: in.Add(3 * time.Hour)},
	})
	require.Error(t, r.CheckInvariants())
}

func TestCheckInvariants_PauseOutsideWindowRejected(t *testing.T) {
	in := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	r := completeRecord(in, []PauseEvent{
		{PausedAt: in.Add(-time.Minute), ResumedAt: in.Add(time.Hour)},
	})
	require.Error(t, r.CheckInvariants())
}

func TestCheckInvariants_ClockOutBeforeClockIn(t *testing.T) {
	in := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	out := in.Add(-time.Hour)
	r := &Record{
		ID: "r-1", ClockInAt: in, ClockOutAt: &out,
		Status:               StatusComplete,
		ClockOutVerification: &Verification{},
	}
	require.Error(t, r.CheckInvariants())
}

func TestUnpaidPauseTotal(t *testing.T) {
	in := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	r := &Record{Pauses: []PauseEvent{
		{PausedAt: in, ResumedAt: in.Add(30 * time.Minute), Unpaid: true},
		{PausedAt: in.Add(time.Hour), ResumedAt: in.Add(90 * time.Minute)}, // paid
		{PausedAt: in.Add(2 * time.Hour), ResumedAt: in.Add(135 * time.Minute), Unpaid: true},
	}}
	require.Equal(t, 45*time.Minute, r.UnpaidPauseTotal())
}
