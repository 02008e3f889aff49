package field

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// Fingerprint computes the signal ID for a kind and payload. It is a pure
// function of the kind and the payload identity.
func Fingerprint(kind schemas.Kind, payload schemas.Payload) string {
	d := xxhash.New()
	_, _ = d.WriteString(string(kind))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(payload.Identity())
	return fmt.Sprintf("%016x", d.Sum64())
}

// NewSignal builds a signal with its fingerprint filled in.
func NewSignal(payload schemas.Payload, emitterID string, intensity, confidence float64, ttl int64) schemas.Signal {
	return schemas.Signal{
		ID:         Fingerprint(payload.Kind(), payload),
		Kind:       payload.Kind(),
		Payload:    payload,
		Intensity:  intensity,
		Confidence: confidence,
		TTL:        ttl,
		EmitterID:  emitterID,
	}
}
