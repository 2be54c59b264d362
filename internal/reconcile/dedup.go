package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

// Fingerprint is the fallback identity of a record without a usable id:
// sha256 over the normalized amount, the creation time truncated to the
// second in UTC, and the mapped status.
func Fingerprint(amount decimal.Decimal, createdAt time.Time, status models.TransactionStatus) string {
	ts := createdAt.UTC().Truncate(time.Second).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(amount.String() + "|" + ts + "|" + string(status)))
	return hex.EncodeToString(sum[:])
}

// seenSet is the in-memory dedup membership of a run. Lookups consult the
// pending batch overlay first; commit folds the overlay into the run set and
// discard drops it when the batch rolls back.
type seenSet struct {
	externalIds  map[string]models.TransactionStatus
	fingerprints map[string]struct{}

	batchIds          map[string]models.TransactionStatus
	batchFingerprints map[string]struct{}
}

func newSeenSet(keys *store.SeenKeys) *seenSet {
	s := &seenSet{
		externalIds:  make(map[string]models.TransactionStatus),
		fingerprints: make(map[string]struct{}),
	}
	if keys != nil {
		for id, status := range keys.ExternalIds {
			s.externalIds[id] = status
		}
		for fp := range keys.Fingerprints {
			s.fingerprints[fp] = struct{}{}
		}
	}
	s.discard()
	return s
}

func (s *seenSet) status(externalId string) (models.TransactionStatus, bool) {
	if status, ok := s.batchIds[externalId]; ok {
		return status, true
	}
	status, ok := s.externalIds[externalId]
	return status, ok
}

func (s *seenSet) hasFingerprint(fp string) bool {
	if _, ok := s.batchFingerprints[fp]; ok {
		return true
	}
	_, ok := s.fingerprints[fp]
	return ok
}

func (s *seenSet) markId(externalId string, status models.TransactionStatus) {
	s.batchIds[externalId] = status
}

func (s *seenSet) markFingerprint(fp string) {
	s.batchFingerprints[fp] = struct{}{}
}

func (s *seenSet) commit() {
	for id, status := range s.batchIds {
		s.externalIds[id] = status
	}
	for fp := range s.batchFingerprints {
		s.fingerprints[fp] = struct{}{}
	}
	s.discard()
}

func (s *seenSet) discard() {
	s.batchIds = make(map[string]models.TransactionStatus)
	s.batchFingerprints = make(map[string]struct{})
}
