package evv

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Canonical serialization rules: immutable fields only, fixed field order,
// timestamps normalized to RFC 3339 nanosecond UTC, floats rendered with the
// shortest exact representation. Any deviation between writers would read as
// tampering, so both hashing and verification go through this single path.

func canonTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func canonFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func canonVerification(v *Verification) string {
	if v == nil {
		return "-"
	}
	return strings.Join([]string{
		canonFloat(v.Latitude),
		canonFloat(v.Longitude),
		canonFloat(v.AccuracyMeters),
		canonTime(v.DeviceTimestamp),
		string(v.Method),
		string(v.Source),
		v.Device.DeviceID,
		v.PhotoHash,
	}, ",")
}

// CanonicalPayload renders the immutable fields of a record into the byte
// string that integrity hashes commit to.
func CanonicalPayload(r *Record) []byte {
	var b strings.Builder
	b.WriteString("visit=" + r.VisitID)
	b.WriteString("|caregiver=" + r.CaregiverID)
	b.WriteString("|client=" + r.ClientID)
	b.WriteString("|in=" + canonTime(r.ClockInAt))
	if r.ClockOutAt != nil {
		b.WriteString("|out=" + canonTime(*r.ClockOutAt))
	} else {
		b.WriteString("|out=-")
	}
	b.WriteString("|vin=" + canonVerification(r.ClockInVerification))
	b.WriteString("|vout=" + canonVerification(r.ClockOutVerification))

	pauses := make([]string, 0, len(r.Pauses))
	for _, p := range r.Pauses {
		pauses = append(pauses, fmt.Sprintf("%s/%s/%t", canonTime(p.PausedAt), canonTime(p.ResumedAt), p.Unpaid))
	}
	sort.Strings(pauses)
	b.WriteString("|pauses=" + strings.Join(pauses, ";"))

	devices := deviceIDs(r)
	sort.Strings(devices)
	b.WriteString("|devices=" + strings.Join(devices, ";"))

	return []byte(b.String())
}

func deviceIDs(r *Record) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(v *Verification) {
		if v == nil || v.Device.DeviceID == "" {
			return
		}
		if _, ok := seen[v.Device.DeviceID]; ok {
			return
		}
		seen[v.Device.DeviceID] = struct{}{}
		ids = append(ids, v.Device.DeviceID)
	}
	add(r.ClockInVerification)
	add(r.ClockOutVerification)
	for i := range r.MidVisitChecks {
		add(&r.MidVisitChecks[i])
	}
	return ids
}

// ComputeIntegrity returns the SHA-256 hash and the CRC-32 checksum over the
// canonical payload. The hash is authoritative; the checksum exists for cheap
// verification on retrieval paths.
func ComputeIntegrity(r *Record) (hash string, checksum string) {
	payload := CanonicalPayload(r)
	sum := sha256.Sum256(payload)
	crc := crc32.ChecksumIEEE(payload)
	return hex.EncodeToString(sum[:]), fmt.Sprintf("%08x", crc)
}

// SealIntegrity stamps the integrity columns. Called exactly once, at the
// transition into Complete, and again only on the amendment fork.
func SealIntegrity(r *Record) {
	r.IntegrityHash, r.IntegrityChecksum = ComputeIntegrity(r)
}

// DeterministicRecordID derives the record id for a clock-in so that a
// retried clock-in collapses onto the same record.
func DeterministicRecordID(tenantID, visitID, caregiverID, deviceID string, deviceTimestamp time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join(
		[]string{tenantID, visitID, caregiverID, deviceID, canonTime(deviceTimestamp)}, "|")))
	return "evv-" + hex.EncodeToString(sum[:16])
}
