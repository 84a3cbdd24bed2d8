package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditledger/internal/ledger"
)

// verifyTimeout bounds one full-chain verification run.
const verifyTimeout = 30 * time.Minute

// verifyLedger walks the whole chain and logs the outcome. Violations are
// logged, never fatal.
func verifyLedger(ctx context.Context, v *ledger.Verifier, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	start := time.Now()
	report, err := v.VerifyIntegrity(ctx, ledger.VerifyOptions{})
	if err != nil {
		logger.Error("audit ledger verification could not run", zap.Error(err))
		return
	}
	if !report.Valid {
		logger.Error("audit ledger integrity check FAILED",
			zap.Int("checked", report.TotalChecked),
			zap.Int("violations", len(report.Errors)),
			zap.Any("first_violation", report.Errors[0]),
		)
		return
	}
	logger.Info("audit ledger verified",
		zap.Int("entries", report.TotalChecked),
		zap.Duration("took", time.Since(start)),
	)
}

// scheduleVerification registers periodic full-chain verification. An empty
// schedule disables it and returns a nil scheduler.
func scheduleVerification(schedule string, v *ledger.Verifier, logger *zap.Logger) (*cron.Cron, error) {
	if schedule == "" {
		logger.Info("scheduled verification disabled")
		return nil, nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		verifyLedger(context.Background(), v, logger)
	}); err != nil {
		return nil, fmt.Errorf("schedule verification %q: %w", schedule, err)
	}
	logger.Info("scheduled verification", zap.String("schedule", schedule))
	return c, nil
}
