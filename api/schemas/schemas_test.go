package schemas_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/darkswarm/api/schemas"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing slash", "http://abc.onion/", "http://abc.onion"},
		{"case folding on host", "HTTP://ABC.Onion/Path", "http://abc.onion/Path"},
		{"fragment dropped", "http://abc.onion/a#top", "http://abc.onion/a"},
		{"not a url", "  Some Thing/ ", "some thing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schemas.NormalizeURL(tt.in))
		})
	}
}

func TestIdentityIgnoresProvenance(t *testing.T) {
	a := schemas.RawResult{URL: "http://x.onion/market/", Title: "A", Engine: "Ahmia"}
	b := schemas.RawResult{URL: "http://X.onion/market", Title: "B", Engine: "Torgle"}
	assert.Equal(t, a.Identity(), b.Identity())

	q1 := schemas.UserQuery{Query: "  Ransomware   Payments ", Priority: 1}
	q2 := schemas.UserQuery{Query: "ransomware payments", Priority: 0.2}
	assert.Equal(t, q1.Identity(), q2.Identity())
}

func TestExtractedArtifactsIdentityIsOrderIndependent(t *testing.T) {
	x := schemas.Artifact{Type: schemas.ArtifactEmail, Value: "a@b.io"}
	y := schemas.Artifact{Type: schemas.ArtifactOnion, Value: "abc.onion"}
	p1 := schemas.ExtractedArtifacts{SourceURL: "http://s.onion", Artifacts: []schemas.Artifact{x, y}}
	p2 := schemas.ExtractedArtifacts{SourceURL: "http://s.onion/", Artifacts: []schemas.Artifact{y, x, x}}
	assert.Equal(t, p1.Identity(), p2.Identity())
}

func TestDecodePayload(t *testing.T) {
	for _, kind := range schemas.RegisteredKinds() {
		require.True(t, schemas.IsRegistered(kind))
	}

	in := schemas.FilteredResult{URL: "http://a.onion", Title: "t", Relevance: 0.97, Reason: "Ranked #2"}
	raw, err := schemas.EncodePayload(in)
	require.NoError(t, err)

	out, err := schemas.DecodePayload(schemas.KindFilteredResult, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = schemas.DecodePayload("heartbeat", raw)
	assert.ErrorContains(t, err, "unknown signal kind")
}

func TestWalletPayloadsDecode(t *testing.T) {
	in := schemas.BlockchainAnalysis{Address: "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh", Chain: "bitcoin", Analysis: schemas.WalletAnalysis{
		FirstSeen: 1700000000, LastSeen: 1700086400, TxCount: 3, TotalReceived: 150000, TotalSent: 50000, Balance: 100000,
		Patterns:       []schemas.TemporalPattern{{Type: "burst_activity", Confidence: 0.75, Evidence: []string{"3 of 4"}}},
		RiskIndicators: []string{"Active within last 7 days"},
	}}
	raw, err := schemas.EncodePayload(in)
	require.NoError(t, err)
	out, err := schemas.DecodePayload(schemas.KindBlockchainAnalysis, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	assert.Equal(t, in.Identity(), schemas.BlockchainAnalysis{Address: in.Address, Chain: "Bitcoin"}.Identity(),
		"the analysis body is not part of the identity")
	assert.Equal(t,
		schemas.PasteContent{URL: "https://pastebin.com/AbC123/", Site: "pastebin"}.Identity(),
		schemas.PasteContent{URL: "https://PASTEBIN.com/AbC123", Site: "psbdmp"}.Identity())
}

func TestSignalRangesAndEmitters(t *testing.T) {
	s := schemas.Signal{Intensity: 0.5, Confidence: 0.5, EmitterID: "crawler-0", ReinforcedBy: []string{"crawler-1", "crawler-3"}}
	require.NoError(t, s.CheckRanges())
	assert.True(t, s.HasEmitter("crawler-0"))
	assert.True(t, s.HasEmitter("crawler-3"))
	assert.False(t, s.HasEmitter("crawler-2"))

	s.Intensity = math.NaN()
	assert.Error(t, s.CheckRanges())
	s.Intensity = 0.5
	s.Confidence = 1.01
	assert.Error(t, s.CheckRanges())

	clone := s.Clone()
	clone.ReinforcedBy[0] = "mutated"
	assert.Equal(t, "crawler-1", s.ReinforcedBy[0])
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, schemas.Clamp01(-3))
	assert.Equal(t, 1.0, schemas.Clamp01(7))
	assert.Equal(t, 0.0, schemas.Clamp01(math.NaN()))
	assert.Equal(t, 0.25, schemas.Clamp01(0.25))
}
