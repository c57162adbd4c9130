package boiledrepos

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-billing/core/fee"
)

func (s *store) SaveBillingRun(ctx context.Context, report fee.Report) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO billing_runs (`+billingRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		report.ID, report.Period.Month, report.Period.Year, report.StartedAt.UTC(), report.FinishedAt.UTC(),
		report.Total, report.Created, report.Updated, report.Unchanged, report.Skipped, report.Failed,
	)
	if err != nil {
		return errors.Wrap(err, "inserting billing run")
	}

	for _, o := range report.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO billing_run_outcomes (run_id, `+billingRunOutcomesColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			report.ID, o.StudentID, o.Result, o.State, nullString(o.Reason), nullString(o.AllocationID),
		)
		if err != nil {
			return errors.Wrapf(err, "inserting outcome of student %s", o.StudentID)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing billing run")
	}
	return nil
}

func (s *store) GetBillingRun(ctx context.Context, id string) (fee.Report, error) {
	var row billingRunRow
	q := `SELECT ` + billingRunColumns + ` FROM billing_runs WHERE id = $1`
	if err := queries.Raw(q, id).Bind(ctx, s.db, &row); err != nil {
		return fee.Report{}, trapNoRowsErr(err, fee.ErrBillingRunNotFound, "getting billing run")
	}

	var outcomes []billingRunOutcomeRow
	q = `SELECT ` + billingRunOutcomesColumns + ` FROM billing_run_outcomes WHERE run_id = $1 ORDER BY student_id`
	if err := queries.Raw(q, id).Bind(ctx, s.db, &outcomes); err != nil {
		return fee.Report{}, errors.Wrap(err, "getting billing run outcomes")
	}
	return row.unboil(outcomes), nil
}
