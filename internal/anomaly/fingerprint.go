package anomaly

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint digests a client-supplied additional_data bag. json.Marshal sorts
// map keys, so equal bags always digest equally. Empty bags have no fingerprint.
func Fingerprint(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// FingerprintUse is one (fingerprint, user, lesson) combination seen in the event log.
type FingerprintUse struct {
	Fingerprint string
	UserID      uuid.UUID
	LessonID    uuid.UUID
	SessionID   uuid.UUID
	Events      int
}

// SharedFingerprint is a fingerprint reported by more than one user.
type SharedFingerprint struct {
	Fingerprint string
	Uses        []FingerprintUse
	Users       int
}

// SharedFingerprints groups uses by fingerprint and keeps the ones reported by
// at least minUsers distinct users. Output is ordered by fingerprint.
func SharedFingerprints(uses []FingerprintUse, minUsers int) []SharedFingerprint {
	if minUsers < 2 {
		minUsers = 2
	}

	byPrint := make(map[string][]FingerprintUse)
	for _, u := range uses {
		if u.Fingerprint == "" {
			continue
		}
		byPrint[u.Fingerprint] = append(byPrint[u.Fingerprint], u)
	}

	var out []SharedFingerprint
	for fp, group := range byPrint {
		users := make(map[uuid.UUID]struct{})
		for _, u := range group {
			users[u.UserID] = struct{}{}
		}
		if len(users) < minUsers {
			continue
		}
		out = append(out, SharedFingerprint{Fingerprint: fp, Uses: group, Users: len(users)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}
