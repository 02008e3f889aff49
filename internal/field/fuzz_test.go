package field

import (
	"fmt"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/xkilldash9x/darkswarm/api/schemas"
	"go.uber.org/zap"
)

// FuzzFieldInvariants drives arbitrary submit/decay sequences and checks that
// the field never holds an out-of-range or inconsistent signal.
func FuzzFieldInvariants(f *testing.F) {
	f.Add([]byte("seed-corpus-entry-0123456789"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		fld, err := New(DefaultConfig(), zap.NewNop())
		if err != nil {
			t.Fatal(err)
		}

		var tick int64
		for step := 0; step < 64; step++ {
			op, err := consumer.GetInt()
			if err != nil {
				break
			}
			if op%4 == 0 {
				tick++
				fld.Decay(tick)
				continue
			}
			urlIdx, err := consumer.GetInt()
			if err != nil {
				break
			}
			emitterIdx, err := consumer.GetInt()
			if err != nil {
				break
			}
			intensity, err := consumer.GetFloat64()
			if err != nil {
				break
			}
			confidence, err := consumer.GetFloat64()
			if err != nil {
				break
			}
			payload := schemas.RawResult{URL: fmt.Sprintf("http://n%d.onion", abs(urlIdx)%5)}
			sig := NewSignal(payload, fmt.Sprintf("crawler-%d", abs(emitterIdx)%4), intensity, confidence, 20)
			// Malformed input must be rejected, never stored.
			_, _ = fld.Submit(sig)

			if err := fld.CheckInvariants(); err != nil {
				t.Fatalf("invariant broken at step %d: %v", step, err)
			}
		}

		for s := range fld.Query(nil) {
			if s.Intensity < fld.Config().Epsilon && s.LastTouchedAt < tick {
				t.Fatalf("signal %s below epsilon survived decay", s.ID)
			}
		}
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
