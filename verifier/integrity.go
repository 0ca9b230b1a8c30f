package verifier

import (
	"crypto/subtle"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
)

// VerifyIntegrity recomputes the integrity hash from the record's current
// fields and compares it to the stored one. A mismatch means tampering or
// storage corruption; the record must be quarantined and kept off the
// submission path until reviewed.
func VerifyIntegrity(r *evv.Record) error {
	if r.IntegrityHash == "" {
		if r.Status.AtLeastComplete() {
			return evverrors.New(evverrors.KindTamperDetected,
				"record %s is %s but carries no integrity hash", r.ID, r.Status)
		}
		return nil
	}

	hash, checksum := evv.ComputeIntegrity(r)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(r.IntegrityHash)) != 1 {
		return evverrors.New(evverrors.KindTamperDetected,
			"record %s integrity hash mismatch", r.ID)
	}
	if checksum != r.IntegrityChecksum {
		return evverrors.New(evverrors.KindTamperDetected,
			"record %s integrity checksum mismatch", r.ID)
	}
	return nil
}

// QuickVerify checks only the cheap CRC checksum. Used on hot retrieval
// paths; a pass here is not authoritative.
func QuickVerify(r *evv.Record) bool {
	if r.IntegrityChecksum == "" {
		return !r.Status.AtLeastComplete()
	}
	_, checksum := evv.ComputeIntegrity(r)
	return checksum == r.IntegrityChecksum
}
