package fee

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core"
)

const (
	receiptTemplate = "payment_receipt"
	reportTemplate  = "billing_run_report"
)

type (
	receiptLine struct {
		Period      string
		StudentName string
		Amount      string
		Remaining   string
		Status      Status
	}

	receiptData struct {
		FamilyName  string
		Amount      string
		Method      string
		PaymentDate string
		Reference   string
		Lines       []receiptLine
		Applied     string
		Unapplied   string
	}

	reportData struct {
		Period    string
		Duration  string
		Total     int
		Created   int
		Updated   int
		Unchanged int
		Skipped   int
		Failed    int
		Failures  []StudentOutcome
	}
)

// Notifier emails payment receipts to families and billing run reports to the operators.
type Notifier struct {
	dir       Directory
	store     Store
	mail      core.EmailService
	operators mail.Address
}

func NewNotifier(dir Directory, store Store, mailSvc core.EmailService, operators mail.Address) *Notifier {
	return &Notifier{dir: dir, store: store, mail: mailSvc, operators: operators}
}

// PaymentReceipt builds the receipt of a committed payment. ok is false when the family has no email.
func (n *Notifier) PaymentReceipt(ctx context.Context, payment Payment) (msg *core.EmailMessage, ok bool, err error) {
	family, err := n.dir.GetFamily(ctx, payment.FamilyID)
	if err != nil {
		return nil, false, errors.Wrap(err, "getting family")
	}
	if family.Email == "" {
		return nil, false, nil
	}

	data := receiptData{
		FamilyName:  family.Name,
		Amount:      payment.Amount.StringFixed(moneyPlaces),
		Method:      payment.Method,
		PaymentDate: payment.PaymentDate.Format("2006-01-02"),
		Reference:   payment.Reference,
		Lines:       make([]receiptLine, 0, len(payment.Applications)),
		Applied:     payment.AppliedAmount.StringFixed(moneyPlaces),
		Unapplied:   payment.Unapplied().StringFixed(moneyPlaces),
	}
	for _, pa := range payment.Applications {
		alloc, err := n.store.GetAllocation(ctx, pa.AllocationID)
		if err != nil {
			return nil, false, errors.Wrap(err, "getting allocation")
		}
		line := receiptLine{
			Period:    alloc.Period().String(),
			Amount:    pa.Amount.StringFixed(moneyPlaces),
			Remaining: alloc.Remaining().StringFixed(moneyPlaces),
			Status:    alloc.Status,
		}
		if student, err := n.dir.GetStudent(ctx, alloc.StudentID); err == nil {
			line.StudentName = student.Name
		}
		data.Lines = append(data.Lines, line)
	}

	return &core.EmailMessage{
		To:           []mail.Address{{Name: family.Name, Address: family.Email}},
		Subject:      "Payment receipt",
		TemplateName: receiptTemplate,
		TemplateData: data,
	}, true, nil
}

// BillingReport builds the operators' report of a billing run, with every outcome attached as CSV.
func (n *Notifier) BillingReport(report Report) (*core.EmailMessage, error) {
	msg := &core.EmailMessage{
		To:           []mail.Address{n.operators},
		Subject:      fmt.Sprintf("Billing run %s", report.Period),
		TemplateName: reportTemplate,
		TemplateData: reportData{
			Period:    report.Period.String(),
			Duration:  report.Duration().String(),
			Total:     report.Total,
			Created:   report.Created,
			Updated:   report.Updated,
			Unchanged: report.Unchanged,
			Skipped:   report.Skipped,
			Failed:    report.Failed,
			Failures:  report.Failures(),
		},
	}

	buf, err := outcomesCSV(report.Outcomes)
	if err != nil {
		return nil, errors.Wrap(err, "writing outcomes csv")
	}
	if err = msg.Attach(buf, fmt.Sprintf("billing-run-%s.csv", report.Period), "text/csv"); err != nil {
		return nil, errors.Wrap(err, "attaching outcomes")
	}
	return msg, nil
}

func (n *Notifier) send(msgs ...*core.EmailMessage) {
	if n.mail == nil || len(msgs) == 0 {
		return
	}
	n.mail.SendMessages(msgs...)
}

func outcomesCSV(outcomes []StudentOutcome) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	if err := w.Write([]string{"student_id", "result", "state", "allocation_id", "reason"}); err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		if err := w.Write([]string{o.StudentID, string(o.Result), string(o.State), o.AllocationID, o.Reason}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf, w.Error()
}
