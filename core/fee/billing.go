package fee

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-billing/core"
)

// Per-student billing states
const (
	StateNotStarted StudentState = "not_started"
	StateCalculated StudentState = "calculated"
	StateUpserted   StudentState = "upserted"
	StateDone       StudentState = "done"
	StateFailed     StudentState = "failed"
)

// Per-student billing results
const (
	ResultCreated   OutcomeResult = "created"
	ResultUpdated   OutcomeResult = "updated"
	ResultUnchanged OutcomeResult = "unchanged"
	ResultSkipped   OutcomeResult = "skipped"
	ResultFailed    OutcomeResult = "failed"
)

const defaultWorkers = 4

type (
	StudentState  string
	OutcomeResult string

	// StudentOutcome is what a billing run did for one student.
	StudentOutcome struct {
		StudentID    string        `json:"student_id"`
		State        StudentState  `json:"state"`
		Result       OutcomeResult `json:"result"`
		Reason       string        `json:"reason,omitempty"`
		AllocationID string        `json:"allocation_id,omitempty"`
	}

	// Report summarizes a billing run.
	Report struct {
		ID         string           `json:"id"`
		Period     Period           `json:"period"`
		StartedAt  time.Time        `json:"started_at"`
		FinishedAt time.Time        `json:"finished_at"`
		Total      int              `json:"total"`
		Created    int              `json:"created"`
		Updated    int              `json:"updated"`
		Unchanged  int              `json:"unchanged"`
		Skipped    int              `json:"skipped"`
		Failed     int              `json:"failed"`
		Outcomes   []StudentOutcome `json:"outcomes"`
	}
)

func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failures returns the outcomes of the students that could not be billed.
func (r Report) Failures() []StudentOutcome {
	var failed []StudentOutcome
	for _, o := range r.Outcomes {
		if o.Result == ResultFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

func (r *Report) count(o StudentOutcome) {
	r.Total++
	switch o.Result {
	case ResultCreated:
		r.Created++
	case ResultUpdated:
		r.Updated++
	case ResultUnchanged:
		r.Unchanged++
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
}

// BillingRunner computes and upserts the allocations of every active student for a period.
type BillingRunner struct {
	dir     Directory
	calc    *Calculator
	allocs  *AllocationStore
	logger  core.Logger
	workers int
	dueDay  int
}

func NewBillingRunner(dir Directory, calc *Calculator, allocs *AllocationStore, logger core.Logger, workers, dueDay int) *BillingRunner {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &BillingRunner{
		dir:     dir,
		calc:    calc,
		allocs:  allocs,
		logger:  logger,
		workers: workers,
		dueDay:  dueDay,
	}
}

// Run bills every active student of the period with bounded parallelism.
// A student's failure is recorded in its outcome and never aborts the run;
// only listing the students can fail the run as a whole.
func (b *BillingRunner) Run(ctx context.Context, period Period) (Report, error) {
	report := Report{
		ID:        uuid.New().String(),
		Period:    period,
		StartedAt: nowFunc().UTC(),
	}

	students, err := b.dir.ListActiveStudents(ctx, period)
	if err != nil {
		return Report{}, errors.Wrap(err, "listing active students")
	}

	outcomes := make([]StudentOutcome, len(students))
	dueDate := period.DueDate(b.dueDay)

	var mu sync.Mutex
	eg := new(errgroup.Group)
	eg.SetLimit(b.workers)
	for i, student := range students {
		i, student := i, student
		eg.Go(func() error {
			o := b.billStudent(ctx, student.ID, period, dueDate)
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait() // workers never fail: errors are reported per student

	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].StudentID < outcomes[j].StudentID })
	for _, o := range outcomes {
		report.count(o)
	}
	report.Outcomes = outcomes
	report.FinishedAt = nowFunc().UTC()
	return report, nil
}

func (b *BillingRunner) billStudent(ctx context.Context, studentID string, period Period, dueDate time.Time) StudentOutcome {
	o := StudentOutcome{StudentID: studentID, State: StateNotStarted}
	fail := func(err error) StudentOutcome {
		o.State = StateFailed
		o.Result = ResultFailed
		o.Reason = err.Error()
		b.logger.Warn(
			fmt.Sprintf("billing student %s for %s: %v", studentID, period, err),
			map[string]interface{}{"student_id": studentID, "period": period.String()},
		)
		return o
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	calc, err := b.calc.Calculate(ctx, studentID, period)
	if err != nil {
		return fail(err)
	}
	o.State = StateCalculated

	alloc, result, err := b.allocs.Upsert(ctx, studentID, period, calc, dueDate)
	if err != nil {
		if errors.Is(err, ErrAllocationLocked) {
			o.State = StateDone
			o.Result = ResultSkipped
			o.Reason = ErrAllocationLocked.Error()
			return o
		}
		return fail(err)
	}
	o.State = StateUpserted
	o.AllocationID = alloc.ID

	switch result {
	case UpsertCreated:
		o.Result = ResultCreated
	case UpsertUpdated:
		o.Result = ResultUpdated
	default:
		o.Result = ResultUnchanged
	}
	o.State = StateDone
	return o
}
