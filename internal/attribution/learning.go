package attribution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
)

// WeightPolicy recomputes model weights from reviewed outcomes. The exact
// optimization rule is an external policy; anything returning valid weights
// plugs in here.
type WeightPolicy interface {
	Recompute(current models.ModelWeights, reviewed []store.ReviewedAggregate) (models.ModelWeights, error)
}

// DefaultWeights is the even split used before the learning job has seen any
// reviewed outcomes.
func DefaultWeights() models.ModelWeights {
	return models.ModelWeights{FirstTouch: 0.25, LastTouch: 0.25, Linear: 0.25, TimeDecay: 0.25}
}

// ScoreReweighter is the shipped policy: each model's weight follows its
// mean score over approved attributions, normalized to sum to one. Rejected
// reviews contribute nothing, which is exactly their point.
type ScoreReweighter struct{}

func (ScoreReweighter) Recompute(current models.ModelWeights, reviewed []store.ReviewedAggregate) (models.ModelWeights, error) {
	var sums [4]float64
	var approved int
	for _, agg := range reviewed {
		if agg.Review.ReviewStatus != models.ReviewApproved {
			continue
		}
		approved++
		sums[0] += agg.Attribution.FirstTouchScore
		sums[1] += agg.Attribution.LastTouchScore
		sums[2] += agg.Attribution.LinearScore
		sums[3] += agg.Attribution.TimeDecayScore
	}
	if approved == 0 {
		return current, nil
	}
	total := sums[0] + sums[1] + sums[2] + sums[3]
	if total <= 0 {
		return current, nil
	}
	return models.ModelWeights{
		FirstTouch: sums[0] / total,
		LastTouch:  sums[1] / total,
		Linear:     sums[2] / total,
		TimeDecay:  sums[3] / total,
	}, nil
}

// LearningJob periodically folds reviewed outcomes into each account's
// weights. It is the only writer of attribution_model_weights.
type LearningJob struct {
	store    Store
	policy   WeightPolicy
	interval time.Duration
	lookback time.Duration
	accounts func(ctx context.Context) ([]string, error)
	logger   *zap.Logger
}

// NewLearningJob wires the periodic updater. accounts lists the account ids
// to recompute each pass.
func NewLearningJob(st Store, policy WeightPolicy, interval, lookback time.Duration, accounts func(ctx context.Context) ([]string, error), logger *zap.Logger) *LearningJob {
	if interval <= 0 {
		interval = time.Hour
	}
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	return &LearningJob{store: st, policy: policy, interval: interval, lookback: lookback, accounts: accounts, logger: logger}
}

// Run executes update passes until the context is cancelled.
func (j *LearningJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Pass(ctx)
		}
	}
}

// Pass recomputes weights for every account once.
func (j *LearningJob) Pass(ctx context.Context) {
	ids, err := j.accounts(ctx)
	if err != nil {
		j.logger.Warn("list accounts for learning pass", zap.Error(err))
		return
	}
	for _, accountID := range ids {
		if err := j.updateAccount(ctx, accountID); err != nil {
			j.logger.Warn("update model weights", zap.String("account", accountID), zap.Error(err))
		}
	}
}

func (j *LearningJob) updateAccount(ctx context.Context, accountID string) error {
	current := DefaultWeights()
	if m, ok, err := j.store.GetModelWeights(ctx, accountID); err != nil {
		return err
	} else if ok {
		current = m.Weights
	}

	reviewed, err := j.store.ListReviewedSince(ctx, accountID, time.Now().Add(-j.lookback))
	if err != nil {
		return err
	}
	next, err := j.policy.Recompute(current, reviewed)
	if err != nil {
		return err
	}
	if next == current {
		return nil
	}
	if err := j.store.UpsertModelWeights(ctx, accountID, next); err != nil {
		return err
	}
	j.logger.Info("model weights updated",
		zap.String("account", accountID),
		zap.Int("reviewed", len(reviewed)),
		zap.Float64("first_touch", next.FirstTouch),
		zap.Float64("last_touch", next.LastTouch),
		zap.Float64("linear", next.Linear),
		zap.Float64("time_decay", next.TimeDecay))
	return nil
}
