package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

var _ cron.Logger = (*cronLogger)(nil)

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvFields(keysAndValues))
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// newScheduler schedules the monthly billing run of the current period and the daily overdue refresh, in UTC.
// A job still running when its next tick comes is skipped.
func newScheduler(conf *core.Config, svc fee.Service, logger core.Logger) (*cron.Cron, error) {
	clog := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	if _, err := c.AddFunc(conf.Billing.Schedule, billingRunJob(svc, logger)); err != nil {
		return nil, errors.Wrapf(err, "scheduling billing run %q", conf.Billing.Schedule)
	}
	if _, err := c.AddFunc(conf.Billing.RefreshOverdueSchedule, refreshOverdueJob(svc, logger)); err != nil {
		return nil, errors.Wrapf(err, "scheduling overdue refresh %q", conf.Billing.RefreshOverdueSchedule)
	}
	return c, nil
}

func billingRunJob(svc fee.Service, logger core.Logger) func() {
	return func() {
		period := fee.PeriodOf(fee.Today())
		if _, err := svc.RunBillingCycle(context.Background(), period); err != nil {
			logger.Error(fmt.Sprintf("scheduled billing run %s: %v", period, err), err)
		}
	}
}

func refreshOverdueJob(svc fee.Service, logger core.Logger) func() {
	return func() {
		n, err := svc.RefreshOverdue(context.Background())
		if err != nil {
			logger.Error(fmt.Sprintf("refreshing overdue allocations: %v", err), err)
			return
		}
		logger.Info(fmt.Sprintf("%d allocations are now overdue", n))
	}
}
