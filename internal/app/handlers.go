package app

import (
	"context"
	"time"

	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/holderprofiles"
	"github.com/solwallet/orchestrator/internal/models"
	"github.com/solwallet/orchestrator/internal/scope"
	"github.com/solwallet/orchestrator/internal/worker"
)

// registerHandlers wires every job kind to its worker.Handler. The actual
// on-chain analysis algorithms (PnL accounting, behavior classification,
// similarity scoring) are out of scope for the orchestration core; these
// handlers perform the bookkeeping each kind owns — recording a dashboard
// run, writing cache entries — around a call to the pluggable
// analysis step.
func registerHandlers(registry *worker.Registry, scopeController *scope.Controller, cache *holderprofiles.Cache, logger *common.Logger) {
	registry.Register(models.KindSyncWallet, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		wallet, _ := job.Payload["wallet"].(string)
		logger.Debug().Str("wallet", wallet).Msg("sync-wallet executing")
		return map[string]any{"wallet": wallet, "syncedAt": time.Now().UTC()}, nil
	})

	registry.Register(models.KindAnalyzePnL, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		wallet, _ := job.Payload["wallet"].(string)
		return map[string]any{"wallet": wallet}, nil
	})

	registry.Register(models.KindAnalyzeBehavior, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		wallet, _ := job.Payload["wallet"].(string)
		return map[string]any{"wallet": wallet}, nil
	})

	registry.Register(models.KindSimilarityAnalysisFlow, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		wallets, _ := job.Payload["walletAddresses"].([]any)
		vectorType := fmtString(job.Payload["vectorType"])
		if vectorType == "" {
			vectorType = "capital"
		}
		return map[string]any{"walletAddresses": wallets, "vectorType": vectorType}, nil
	})

	registry.Register(models.KindEnrichTokenBalances, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		walletBalances, _ := job.Payload["walletBalances"].(map[string]any)
		enriched := make(map[string]any, len(walletBalances))
		for wallet, balances := range walletBalances {
			if err := cache.CacheWallet(ctx, wallet, map[string]any{"tokenBalances": balances}, time.Hour); err != nil {
				return nil, common.NewDispositionError(common.DispositionInfraUnavailable, err)
			}
			enriched[wallet] = balances
		}
		return map[string]any{"walletBalances": enriched}, nil
	})

	registry.Register(models.KindAnalyzeHolderProfiles, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		mode := fmtString(job.Payload["mode"])
		switch mode {
		case "wallet":
			wallet := fmtString(job.Payload["walletAddress"])
			data := map[string]any{"walletAddress": wallet}
			if err := cache.CacheWallet(ctx, wallet, data, time.Hour); err != nil {
				return nil, common.NewDispositionError(common.DispositionInfraUnavailable, err)
			}
			return data, nil
		default:
			mint := fmtString(job.Payload["tokenMint"])
			topN := 10
			if n, ok := job.Payload["topN"].(float64); ok && n > 0 {
				topN = int(n)
			}
			data := map[string]any{"tokenMint": mint, "topN": topN}
			if err := cache.CacheToken(ctx, mint, topN, data, time.Hour); err != nil {
				return nil, common.NewDispositionError(common.DispositionInfraUnavailable, err)
			}
			if wallet := fmtString(job.Payload["walletAddress"]); wallet != "" {
				if err := cache.IndexTokenUnderWallet(ctx, wallet, mint, topN); err != nil {
					logger.Warn().Err(err).Str("wallet", wallet).Str("mint", mint).Msg("failed to index token under wallet")
				}
			}
			return data, nil
		}
	})

	registry.Register(models.KindDashboardWalletAnalysis, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		wallet, _ := job.Payload["wallet"].(string)
		s := models.Scope(fmtString(job.Payload["scope"]))
		queueWorkingAfter, _ := job.Payload["queueWorkingAfter"].(bool)
		queueDeepAfter, _ := job.Payload["queueDeepAfter"].(bool)

		result := map[string]any{"wallet": wallet, "scope": string(s)}

		followUps, err := scopeController.CompleteRun(ctx, job, wallet, s, queueWorkingAfter, queueDeepAfter)
		if err != nil {
			logger.Warn().Err(err).Str("wallet", wallet).Msg("failed to complete dashboard analysis run")
		} else if len(followUps) > 0 {
			logger.Info().Str("wallet", wallet).Int("followUpCount", len(followUps)).Msg("cascaded dashboard follow-up scopes")
		}

		return result, nil
	})
}

func fmtString(v any) string {
	s, _ := v.(string)
	return s
}
