package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

const (
	DefaultBlockstreamURL = "https://blockstream.info/api"
	DefaultEtherscanURL   = "https://api.etherscan.io/api"
	// DefaultMinPatternTx is the fewest timestamped transactions worth a pattern search.
	DefaultMinPatternTx = 3
)

const (
	ChainBitcoin  = "bitcoin"
	ChainEthereum = "ethereum"
)

const (
	satoshisPerBTC   = 100_000_000
	highVolumeBTC    = 10
	highTxCount      = 100
	recentWindow     = 7 * 24 * time.Hour
	failedTxWarnings = 5
)

// ErrUnsupportedChain is returned for addresses without a public explorer, such as Monero.
var ErrUnsupportedChain = errors.New("no explorer for this address type")

// WalletConfig configures the explorer endpoints.
type WalletConfig struct {
	BlockstreamURL  string
	EtherscanURL    string
	EtherscanAPIKey string
	// RequestsPerSecond limits explorer calls across both chains.
	RequestsPerSecond float64
	MinPatternTx      int
	// Now is the clock recent activity is judged against. Defaults to time.Now.
	Now func() time.Time
}

// Wallets reads address histories from Blockstream for bitcoin and Etherscan
// for ethereum.
type Wallets struct {
	cfg       WalletConfig
	retriever schemas.Retriever
	limiter   *rate.Limiter
	logger    *zap.Logger
}

var _ schemas.WalletAnalyzer = (*Wallets)(nil)

// NewWallets creates a wallet analyzer fetching through retriever.
func NewWallets(cfg WalletConfig, retriever schemas.Retriever, logger *zap.Logger) (*Wallets, error) {
	if retriever == nil {
		return nil, errors.New("wallet analyzer requires a retriever")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlockstreamURL == "" {
		cfg.BlockstreamURL = DefaultBlockstreamURL
	}
	if cfg.EtherscanURL == "" {
		cfg.EtherscanURL = DefaultEtherscanURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.MinPatternTx <= 0 {
		cfg.MinPatternTx = DefaultMinPatternTx
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BlockstreamURL = strings.TrimSuffix(cfg.BlockstreamURL, "/")
	return &Wallets{
		cfg:       cfg,
		retriever: retriever,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:    logger.Named("wallets"),
	}, nil
}

// ChainOf names the chain of an address type, or "" when none is readable.
func ChainOf(t schemas.ArtifactType) string {
	switch t {
	case schemas.ArtifactBitcoin:
		return ChainBitcoin
	case schemas.ArtifactEthereum:
		return ChainEthereum
	}
	return ""
}

func (w *Wallets) Supports(t schemas.ArtifactType) bool { return ChainOf(t) != "" }

// Analyze reads the history of one address and derives its temporal patterns.
func (w *Wallets) Analyze(ctx context.Context, artifact schemas.Artifact) (schemas.BlockchainAnalysis, error) {
	chain := ChainOf(artifact.Type)
	out := schemas.BlockchainAnalysis{Address: artifact.Value, Chain: chain}
	var err error
	switch chain {
	case ChainBitcoin:
		out.Analysis, err = w.bitcoin(ctx, artifact.Value)
	case ChainEthereum:
		out.Analysis, err = w.ethereum(ctx, artifact.Value)
	default:
		return out, fmt.Errorf("%w: %s", ErrUnsupportedChain, artifact.Type)
	}
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", chain, artifact.Value, err)
	}
	return out, nil
}

func (w *Wallets) getJSON(ctx context.Context, address string, v any) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	doc, err := w.retriever.Fetch(ctx, address)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// -- Bitcoin --

type blockstreamStats struct {
	TxCount      int    `json:"tx_count"`
	FundedTxoSum uint64 `json:"funded_txo_sum"`
	SpentTxoSum  uint64 `json:"spent_txo_sum"`
}

type blockstreamAddress struct {
	ChainStats   blockstreamStats `json:"chain_stats"`
	MempoolStats blockstreamStats `json:"mempool_stats"`
}

type blockstreamTx struct {
	Status struct {
		BlockTime int64 `json:"block_time"`
	} `json:"status"`
}

func (w *Wallets) bitcoin(ctx context.Context, address string) (schemas.WalletAnalysis, error) {
	base := w.cfg.BlockstreamURL + "/address/" + url.PathEscape(address)
	var stats blockstreamAddress
	if err := w.getJSON(ctx, base, &stats); err != nil {
		return schemas.WalletAnalysis{}, fmt.Errorf("blockstream: %w", err)
	}

	// The history only sharpens the picture; the totals stand without it.
	var txs []blockstreamTx
	if err := w.getJSON(ctx, base+"/txs", &txs); err != nil {
		if ctx.Err() != nil {
			return schemas.WalletAnalysis{}, ctx.Err()
		}
		w.logger.Debug("Transaction history unavailable.", zap.String("address", address), zap.Error(err))
	}
	times := make([]int64, 0, len(txs))
	for _, tx := range txs {
		if tx.Status.BlockTime > 0 {
			times = append(times, tx.Status.BlockTime)
		}
	}

	received := stats.ChainStats.FundedTxoSum + stats.MempoolStats.FundedTxoSum
	sent := stats.ChainStats.SpentTxoSum + stats.MempoolStats.SpentTxoSum
	a := schemas.WalletAnalysis{
		TxCount:       stats.ChainStats.TxCount + stats.MempoolStats.TxCount,
		TotalReceived: received,
		TotalSent:     sent,
		Balance:       received - min(sent, received),
		Patterns:      TemporalPatterns(times, w.cfg.MinPatternTx),
	}
	a.FirstSeen, a.LastSeen = span(times)

	if btc := float64(stats.ChainStats.FundedTxoSum) / satoshisPerBTC; btc > highVolumeBTC {
		a.RiskIndicators = append(a.RiskIndicators, fmt.Sprintf("High volume: %.2f BTC total received", btc))
	}
	if stats.ChainStats.TxCount > highTxCount {
		a.RiskIndicators = append(a.RiskIndicators, fmt.Sprintf("High transaction count: %d", stats.ChainStats.TxCount))
	}
	if w.recent(a.LastSeen) {
		a.RiskIndicators = append(a.RiskIndicators, "Active within last 7 days")
	}
	return a, nil
}

// -- Ethereum --

type etherscanResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Result  jsoniter.RawMessage `json:"result"`
}

type etherscanTx struct {
	TimeStamp string `json:"timeStamp"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Input     string `json:"input"`
	IsError   string `json:"isError"`
}

func (w *Wallets) etherscanURL(action, address string, extra url.Values) string {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", address)
	for k, v := range extra {
		params[k] = v
	}
	if w.cfg.EtherscanAPIKey != "" {
		params.Set("apikey", w.cfg.EtherscanAPIKey)
	}
	return w.cfg.EtherscanURL + "?" + params.Encode()
}

func (w *Wallets) ethereum(ctx context.Context, address string) (schemas.WalletAnalysis, error) {
	var balance etherscanResponse
	if err := w.getJSON(ctx, w.etherscanURL("balance", address, url.Values{"tag": {"latest"}}), &balance); err != nil {
		return schemas.WalletAnalysis{}, fmt.Errorf("etherscan: %w", err)
	}
	if balance.Status != "1" {
		return schemas.WalletAnalysis{}, fmt.Errorf("etherscan: %s", balance.Message)
	}
	var wei string
	if err := json.Unmarshal(balance.Result, &wei); err != nil {
		return schemas.WalletAnalysis{}, fmt.Errorf("etherscan: failed to decode balance: %w", err)
	}

	// An address without transactions answers status 0 and a message instead of a list.
	var txs []etherscanTx
	var list etherscanResponse
	err := w.getJSON(ctx, w.etherscanURL("txlist", address, url.Values{
		"startblock": {"0"}, "endblock": {"99999999"}, "sort": {"asc"},
	}), &list)
	switch {
	case ctx.Err() != nil:
		return schemas.WalletAnalysis{}, ctx.Err()
	case err != nil:
		w.logger.Debug("Transaction list unavailable.", zap.String("address", address), zap.Error(err))
	case list.Status == "1":
		_ = json.Unmarshal(list.Result, &txs)
	}

	a := schemas.WalletAnalysis{TxCount: len(txs), Balance: parseAmount(wei)}
	times := make([]int64, 0, len(txs))
	contractCalls, failed := 0, 0
	for _, tx := range txs {
		if ts, err := strconv.ParseInt(tx.TimeStamp, 10, 64); err == nil {
			times = append(times, ts)
		}
		value := parseAmount(tx.Value)
		if strings.EqualFold(tx.To, address) {
			a.TotalReceived = addSaturating(a.TotalReceived, value)
		} else {
			a.TotalSent = addSaturating(a.TotalSent, value)
		}
		if tx.Input != "" && tx.Input != "0x" {
			contractCalls++
		}
		if tx.IsError == "1" {
			failed++
		}
	}
	a.FirstSeen, a.LastSeen = span(times)
	a.Patterns = TemporalPatterns(times, w.cfg.MinPatternTx)

	if len(txs) > 0 && contractCalls > len(txs)/2 {
		a.RiskIndicators = append(a.RiskIndicators, fmt.Sprintf("Heavy smart contract usage: %d%% of transactions", contractCalls*100/len(txs)))
	}
	if failed > failedTxWarnings {
		a.RiskIndicators = append(a.RiskIndicators, fmt.Sprintf("%d failed transactions (possible probing/attack)", failed))
	}
	if w.recent(a.LastSeen) {
		a.RiskIndicators = append(a.RiskIndicators, "Active within last 7 days")
	}
	return a, nil
}

func (w *Wallets) recent(unix int64) bool {
	return unix > 0 && w.cfg.Now().Sub(time.Unix(unix, 0)) < recentWindow
}

func span(times []int64) (first, last int64) {
	for i, t := range times {
		if i == 0 || t < first {
			first = t
		}
		if t > last {
			last = t
		}
	}
	return first, last
}

// parseAmount reads a decimal amount. Values past uint64 saturate.
func parseAmount(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return v
}

func addSaturating(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}
