package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

const walletsPerTick = 5

// BlockchainAnalyst reads the public history of every cryptocurrency
// address the extractor finds.
type BlockchainAnalyst struct {
	Base
	analyzer schemas.WalletAnalyzer
	seen     seenSet
}

func NewBlockchainAnalyst(id string, analyzer schemas.WalletAnalyzer, threshold float64, logger *zap.Logger) (*BlockchainAnalyst, error) {
	if analyzer == nil {
		return nil, errors.New("blockchain analyst requires a wallet analyzer")
	}
	return &BlockchainAnalyst{
		Base:     NewBase(id, schemas.AgentBlockchain, threshold, logger, schemas.KindExtractedArtifacts),
		analyzer: analyzer,
		seen:     make(seenSet),
	}, nil
}

func (b *BlockchainAnalyst) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	pending := b.pending(sensed)
	if len(pending) == 0 {
		return nil, ErrNoWork
	}

	var (
		out      []schemas.Payload
		failures []error
		keys     []string
	)
	for _, a := range pending {
		analysis, err := b.analyzer.Analyze(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The address stays unseen and is read again next tick.
			b.Logger.Warn("Wallet analysis failed.", zap.String("address", a.Value), zap.Error(err))
			failures = append(failures, err)
			continue
		}
		keys = append(keys, a.Key())
		b.Logger.Info("Wallet analyzed.",
			zap.String("chain", analysis.Chain),
			zap.Int("transactions", analysis.Analysis.TxCount),
			zap.Int("patterns", len(analysis.Analysis.Patterns)))
		out = append(out, analysis)
	}

	if len(keys) == 0 {
		return nil, errors.Join(failures...)
	}
	if err := b.seen.commit(ctx, keys); err != nil {
		return nil, err
	}
	return out, nil
}

// pending returns unseen addresses the analyzer can read, capped per tick.
func (b *BlockchainAnalyst) pending(sensed []schemas.Signal) []schemas.Artifact {
	queued := make(seenSet)
	var pending []schemas.Artifact
	for _, set := range payloads[schemas.ExtractedArtifacts](sensed) {
		for _, a := range set.Artifacts {
			key := a.Key()
			if !b.analyzer.Supports(a.Type) || b.seen.has(key) || queued.has(key) {
				continue
			}
			queued.add(key)
			pending = append(pending, a)
			if len(pending) == walletsPerTick {
				return pending
			}
		}
	}
	return pending
}
