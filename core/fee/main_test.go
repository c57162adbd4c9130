package fee_test

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/masomo-billing/core/fee"
	emailsvc "github.com/trezcool/masomo-billing/services/email"
	testutil "github.com/trezcool/masomo-billing/tests"
)

var (
	ctx   = context.Background()
	today = testutil.Date(2024, 3, 5)

	march = fee.Period{Month: 3, Year: 2024}
	feb   = fee.Period{Month: 2, Year: 2024}
	jan   = fee.Period{Month: 1, Year: 2024}
)

type env struct {
	*testutil.Fixture
	svc     fee.Service
	mailSvc *emailsvc.ConsoleServiceMock
}

// setup freezes the clock on today and builds a service over an empty in-memory database.
func setup(t *testing.T, lockTimeout ...time.Duration) *env {
	t.Helper()
	reset := fee.SetNowFunc(func() time.Time { return today.Add(9 * time.Hour) })
	t.Cleanup(reset)

	fx := testutil.NewFixture(t, lockTimeout...)
	conf := testutil.NewConfig()
	validate, translator := testutil.NewValidator()
	mailSvc := emailsvc.NewConsoleServiceMock(conf)

	svc := fee.NewService(fee.ServiceDeps{
		Store:      fx.Store,
		Directory:  fx.Dir,
		Validate:   validate,
		Translator: translator,
		MailSvc:    mailSvc,
		Logger:     testutil.Logger{T: t},
		Conf:       conf,
	})
	return &env{Fixture: fx, svc: svc, mailSvc: mailSvc}
}

func (e *env) sentSubjects() []string {
	var subjects []string
	for _, msg := range e.mailSvc.SentMessages() {
		subjects = append(subjects, msg.Subject)
	}
	return subjects
}
