package enrichment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/network"
)

const (
	epoch   = int64(1700000000)
	btcAddr = "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"
	ethAddr = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
)

func newTestRetriever(t *testing.T, server *httptest.Server) schemas.Retriever {
	t.Helper()
	r, err := network.NewRetriever(server.Client(), network.RetrieverConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func newTestWallets(t *testing.T, server *httptest.Server) *Wallets {
	t.Helper()
	w, err := NewWallets(WalletConfig{
		BlockstreamURL:    server.URL + "/btc",
		EtherscanURL:      server.URL + "/eth",
		EtherscanAPIKey:   "eth-key",
		RequestsPerSecond: 1000,
		Now:               func() time.Time { return time.Unix(epoch+3*day+hour, 0) },
	}, newTestRetriever(t, server), zaptest.NewLogger(t))
	require.NoError(t, err)
	return w
}

func TestWalletsBitcoin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/btc/address/" + btcAddr:
			_, _ = io.WriteString(w, `{"chain_stats":{"tx_count":4,"funded_txo_sum":1500000000,"spent_txo_sum":500000000},
				"mempool_stats":{"tx_count":0,"funded_txo_sum":0,"spent_txo_sum":0}}`)
		case "/btc/address/" + btcAddr + "/txs":
			// Newest first, as Blockstream lists them.
			_, _ = io.WriteString(w, `[{"status":{"block_time":1700259200}},{"status":{"block_time":1700172800}},
				{"status":{"block_time":1700086400}},{"status":{"block_time":1700000000}},{"status":{}}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	wallets := newTestWallets(t, server)
	assert.True(t, wallets.Supports(schemas.ArtifactBitcoin))
	assert.False(t, wallets.Supports(schemas.ArtifactMonero))

	got, err := wallets.Analyze(context.Background(), schemas.Artifact{Type: schemas.ArtifactBitcoin, Value: btcAddr})
	require.NoError(t, err)
	assert.Equal(t, ChainBitcoin, got.Chain)
	assert.Equal(t, btcAddr, got.Address)

	a := got.Analysis
	assert.Equal(t, 4, a.TxCount)
	assert.Equal(t, uint64(1500000000), a.TotalReceived)
	assert.Equal(t, uint64(500000000), a.TotalSent)
	assert.Equal(t, uint64(1000000000), a.Balance)
	assert.Equal(t, epoch, a.FirstSeen)
	assert.Equal(t, epoch+3*day, a.LastSeen)
	assert.Equal(t, []string{"High volume: 15.00 BTC total received", "Active within last 7 days"}, a.RiskIndicators)
	assert.Equal(t, []string{PatternRegularInterval, PatternTimezone}, patternTypes(a.Patterns))
	assert.Equal(t, "Transactions occur at regular intervals of ~1 days", a.Patterns[0].Description)
}

func TestWalletsBitcoinWithoutHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/btc/address/"+btcAddr {
			_, _ = io.WriteString(w, `{"chain_stats":{"tx_count":120,"funded_txo_sum":1000,"spent_txo_sum":1000},"mempool_stats":{}}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	got, err := newTestWallets(t, server).Analyze(context.Background(), schemas.Artifact{Type: schemas.ArtifactBitcoin, Value: btcAddr})
	require.NoError(t, err, "totals stand without the transaction list")
	assert.Zero(t, got.Analysis.Balance)
	assert.Empty(t, got.Analysis.Patterns)
	assert.Equal(t, []string{"High transaction count: 120"}, got.Analysis.RiskIndicators)
}

func TestWalletsEthereum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/eth", r.URL.Path)
		assert.Equal(t, "eth-key", q.Get("apikey"))
		assert.Equal(t, ethAddr, q.Get("address"))
		switch q.Get("action") {
		case "balance":
			assert.Equal(t, "latest", q.Get("tag"))
			// 40 ETH in wei does not fit a uint64.
			_, _ = io.WriteString(w, `{"status":"1","message":"OK","result":"40000000000000000000"}`)
		case "txlist":
			assert.Equal(t, "asc", q.Get("sort"))
			_, _ = io.WriteString(w, `{"status":"1","message":"OK","result":[
				{"timeStamp":"1700000000","to":"0x742d35cc6634c0532925a3b844bc454e4438f44e","value":"1000","input":"0x","isError":"0"},
				{"timeStamp":"1700000600","to":"0xdac17f958d2ee523a2206206994597c13d831ec7","value":"400","input":"0xa9059cbb","isError":"0"},
				{"timeStamp":"1700001200","to":"0xdac17f958d2ee523a2206206994597c13d831ec7","value":"0","input":"0xa9059cbb","isError":"1"}]}`)
		default:
			t.Errorf("unexpected action %q", q.Get("action"))
		}
	}))
	defer server.Close()

	got, err := newTestWallets(t, server).Analyze(context.Background(), schemas.Artifact{Type: schemas.ArtifactEthereum, Value: ethAddr})
	require.NoError(t, err)
	a := got.Analysis
	assert.Equal(t, ChainEthereum, got.Chain)
	assert.Equal(t, 3, a.TxCount)
	assert.Equal(t, ^uint64(0), a.Balance, "oversized balances saturate")
	assert.Equal(t, uint64(1000), a.TotalReceived)
	assert.Equal(t, uint64(400), a.TotalSent)
	assert.Equal(t, epoch, a.FirstSeen)
	assert.Equal(t, epoch+1200, a.LastSeen)
	assert.Equal(t, []string{"Heavy smart contract usage: 66% of transactions", "Active within last 7 days"}, a.RiskIndicators)
	assert.Contains(t, patternTypes(a.Patterns), PatternBurstActivity)
}

func TestWalletsEthereumErrors(t *testing.T) {
	var balanceStatus string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "balance" {
			_, _ = io.WriteString(w, balanceStatus)
			return
		}
		_, _ = io.WriteString(w, `{"status":"0","message":"No transactions found","result":[]}`)
	}))
	defer server.Close()
	wallets := newTestWallets(t, server)
	eth := schemas.Artifact{Type: schemas.ArtifactEthereum, Value: ethAddr}

	balanceStatus = `{"status":"1","message":"OK","result":"0"}`
	got, err := wallets.Analyze(context.Background(), eth)
	require.NoError(t, err)
	assert.Zero(t, got.Analysis.TxCount)
	assert.Empty(t, got.Analysis.RiskIndicators)

	balanceStatus = `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`
	_, err = wallets.Analyze(context.Background(), eth)
	assert.ErrorContains(t, err, "etherscan: NOTOK")

	_, err = wallets.Analyze(context.Background(), schemas.Artifact{Type: schemas.ArtifactMonero, Value: "44AFF"})
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestNewWalletsRequiresRetriever(t *testing.T) {
	_, err := NewWallets(WalletConfig{}, nil, nil)
	assert.Error(t, err)
}

func patternTypes(ps []schemas.TemporalPattern) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Type)
	}
	return out
}

func TestTemporalPatterns(t *testing.T) {
	tests := []struct {
		name  string
		times []int64
		want  []string
	}{
		{"too few", []int64{epoch}, nil},
		{"unset times ignored", []int64{0, epoch, 0}, nil},
		{"burst every ten minutes", []int64{epoch, epoch + 600, epoch + 1200, epoch + 1800},
			[]string{PatternRegularInterval, PatternBurstActivity, PatternTimezone}},
		{"dormant wallet", []int64{epoch, epoch + 5*day + 7*hour, epoch + 90*day + 13*hour},
			[]string{PatternDormantActive}},
		{"dormancy alone needs no minimum", []int64{epoch, epoch + 60*day}, []string{PatternDormantActive}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TemporalPatterns(tt.times, DefaultMinPatternTx)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, patternTypes(got))
		})
	}
}

func TestTemporalPatternConfidence(t *testing.T) {
	ps := TemporalPatterns([]int64{epoch + 600, epoch, epoch + 1200}, DefaultMinPatternTx)
	require.NotEmpty(t, ps)
	assert.Equal(t, PatternRegularInterval, ps[0].Type)
	assert.Equal(t, 1.0, ps[0].Confidence)
	assert.Equal(t, "Transactions occur at regular intervals of ~10 minutes", ps[0].Description)
	assert.Equal(t, []string{"Average interval: 600 seconds", "Standard deviation: 0 seconds"}, ps[0].Evidence)
}
