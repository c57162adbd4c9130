package testutil

import (
	"fmt"
	"net/mail"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
	dummydb "github.com/trezcool/masomo-billing/storage/database/dummy"
)

// Dec parses a decimal literal, panicking on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func NewConfig() *core.Config {
	return &core.Config{
		AppName:          "Masomo Billing",
		Env:              "TEST",
		TestMode:         true,
		DefaultFromEmail: mail.Address{Name: "Masomo Billing", Address: "noreply@masomo.test"},
		OperatorsEmail:   mail.Address{Name: "Operators", Address: "ops@masomo.test"},
		Server: core.ServerConfig{
			Address:         ":0",
			ShutdownTimeout: time.Second,
			JWTSecret:       "secret",
			DisableReqLogs:  true,
		},
		Billing: core.BillingConfig{
			DueDay:      10,
			Workers:     4,
			LockTimeout: 200 * time.Millisecond,
		},
	}
}

func NewValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	fee.InitValidators(validate, translator)
	return validate, translator
}

// Logger writes to the test log.
type Logger struct {
	T testing.TB
}

var _ core.Logger = (*Logger)(nil)

func (l Logger) log(level, msg string, args []interface{}) {
	l.T.Helper()
	if len(args) > 0 {
		l.T.Logf("%s: %s %v", level, msg, args)
		return
	}
	l.T.Logf("%s: %s", level, msg)
}

func (l Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l Logger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	l.T.FailNow()
}

// Fixture seeds an in-memory billing database.
type Fixture struct {
	DB    *dummydb.DB
	Store fee.Store
	Dir   fee.Directory
}

func NewFixture(t *testing.T, lockTimeout ...time.Duration) *Fixture {
	db, err := dummydb.Open(lockTimeout...)
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	return &Fixture{
		DB:    db,
		Store: dummydb.NewStore(db),
		Dir:   dummydb.NewDirectory(db),
	}
}

func (f *Fixture) CreateFamily(name, discount string) fee.Family {
	fam := fee.Family{
		ID:             uuid.New().String(),
		Name:           name,
		Email:          fmt.Sprintf("%s@family.test", name),
		DiscountAmount: Dec(discount),
	}
	f.DB.AddFamily(fam)
	return fam
}

// CreateStudent creates an active student; familyID may be empty.
func (f *Fixture) CreateStudent(familyID, name string) fee.Student {
	st := fee.Student{
		ID:       uuid.New().String(),
		FamilyID: familyID,
		Name:     name,
		IsActive: true,
	}
	f.DB.AddStudent(st)
	return st
}

// Subscribe subscribes the student to a new course priced unit, from start on.
func (f *Fixture) Subscribe(studentID, unit, discount string, start time.Time, end ...time.Time) fee.Subscription {
	courseID := uuid.New().String()
	f.DB.AddFeeStructure(dummydb.FeeStructure{CourseID: courseID, UnitAmount: Dec(unit)})

	sub := fee.Subscription{
		ID:             uuid.New().String(),
		StudentID:      studentID,
		CourseID:       courseID,
		DiscountAmount: Dec(discount),
		StartDate:      start,
	}
	if len(end) > 0 {
		sub.EndDate = &end[0]
	}
	f.DB.AddSubscription(sub)
	sub.UnitAmount = Dec(unit)
	return sub
}
