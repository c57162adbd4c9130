package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-billing/core/fee"
)

// billableSubscription matches the priced subscriptions of student st active on the date bound to param.
func billableSubscription(param string) string {
	return `SELECT 1 FROM subscriptions sub
	JOIN fee_structures fs ON fs.course_id = sub.course_id OR fs.service_id = sub.service_id
	WHERE sub.student_id = st.id AND sub.start_date <= ` + param + ` AND (sub.end_date IS NULL OR sub.end_date > ` + param + `)`
}

const studentColumns = `st.id, COALESCE(st.family_id::text, '') AS family_id, st.name, st.is_active`

type (
	studentRow struct {
		ID       string `db:"id"`
		FamilyID string `db:"family_id"`
		Name     string `db:"name"`
		IsActive bool   `db:"is_active"`
	}

	familyRow struct {
		ID             string          `db:"id"`
		Name           string          `db:"name"`
		Email          string          `db:"email"`
		DiscountAmount decimal.Decimal `db:"discount_amount"`
	}

	subscriptionRow struct {
		ID             string          `db:"id"`
		StudentID      string          `db:"student_id"`
		CourseID       string          `db:"course_id"`
		ServiceID      string          `db:"service_id"`
		UnitAmount     decimal.Decimal `db:"unit_amount"`
		DiscountAmount decimal.Decimal `db:"discount_amount"`
		StartDate      time.Time       `db:"start_date"`
		EndDate        null.Time       `db:"end_date"`
	}
)

func (r studentRow) student() fee.Student {
	return fee.Student{ID: r.ID, FamilyID: r.FamilyID, Name: r.Name, IsActive: r.IsActive}
}

type directory struct {
	db *sqlx.DB
}

var _ fee.Directory = (*directory)(nil) // interface compliance check

// NewDirectory returns a read-only fee.Directory over the students, families,
// fee_structures and subscriptions tables.
func NewDirectory(db *sqlx.DB) fee.Directory {
	return &directory{db: db}
}

func (dir *directory) GetStudent(ctx context.Context, id string) (fee.Student, error) {
	var row studentRow
	err := dir.db.GetContext(ctx, &row, `SELECT `+studentColumns+` FROM students st WHERE st.id = $1`, id)
	if err != nil {
		return fee.Student{}, trapNoRowsErr(err, fee.ErrStudentNotFound, "getting student")
	}
	return row.student(), nil
}

func (dir *directory) GetFamily(ctx context.Context, id string) (fee.Family, error) {
	var row familyRow
	err := dir.db.GetContext(ctx, &row, `SELECT id, name, email, discount_amount FROM families WHERE id = $1`, id)
	if err != nil {
		return fee.Family{}, trapNoRowsErr(err, fee.ErrFamilyNotFound, "getting family")
	}
	return fee.Family(row), nil
}

func (dir *directory) GetActiveSubscriptions(ctx context.Context, studentID string, period fee.Period) ([]fee.Subscription, error) {
	if _, err := dir.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}

	var rows []subscriptionRow
	err := dir.db.SelectContext(ctx, &rows,
		`SELECT sub.id, sub.student_id, COALESCE(sub.course_id::text, '') AS course_id,
		COALESCE(sub.service_id::text, '') AS service_id, fs.unit_amount, sub.discount_amount, sub.start_date, sub.end_date
		FROM subscriptions sub
		JOIN fee_structures fs ON fs.course_id = sub.course_id OR fs.service_id = sub.service_id
		WHERE sub.student_id = $1 AND sub.start_date <= $2 AND (sub.end_date IS NULL OR sub.end_date > $2)
		ORDER BY sub.start_date, sub.id`,
		studentID, period.Start(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting subscriptions")
	}

	subs := make([]fee.Subscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, fee.Subscription{
			ID:             r.ID,
			StudentID:      r.StudentID,
			CourseID:       r.CourseID,
			ServiceID:      r.ServiceID,
			UnitAmount:     r.UnitAmount,
			DiscountAmount: r.DiscountAmount,
			StartDate:      r.StartDate.UTC(),
			EndDate:        r.EndDate.Ptr(),
		})
	}
	return subs, nil
}

func (dir *directory) GetActiveSiblingCount(ctx context.Context, familyID string, period fee.Period) (int, error) {
	var count int
	err := dir.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM students st
		WHERE st.family_id = $1 AND st.is_active AND EXISTS (`+billableSubscription("$2")+`)`,
		familyID, period.Start(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "counting siblings")
	}
	return count, nil
}

func (dir *directory) ListActiveStudents(ctx context.Context, period fee.Period) ([]fee.Student, error) {
	var rows []studentRow
	err := dir.db.SelectContext(ctx, &rows,
		`SELECT `+studentColumns+` FROM students st
		WHERE st.is_active AND EXISTS (`+billableSubscription("$1")+`)
		ORDER BY st.id`,
		period.Start(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing active students")
	}

	students := make([]fee.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.student())
	}
	return students, nil
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Wrap(err, msg)
}
