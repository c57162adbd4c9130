package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core/fee"
	testutil "github.com/trezcool/masomo-billing/tests"
)

type env struct {
	*testutil.Fixture
	cli *commandLine
	out *bytes.Buffer
}

func setup(t *testing.T) *env {
	fx := testutil.NewFixture(t)
	validate, translator := testutil.NewValidator()
	out := new(bytes.Buffer)

	// start CLI
	return &env{
		Fixture: fx,
		out:     out,
		cli: &commandLine{
			feeSvc: fee.NewService(fee.ServiceDeps{
				Store:      fx.Store,
				Directory:  fx.Dir,
				Validate:   validate,
				Translator: translator,
				Logger:     testutil.Logger{T: t},
				Conf:       testutil.NewConfig(),
			}),
			out: out,
		},
	}
}

func mockTerminal(t *testing.T, isTerminal bool) {
	orig := isTerminalFunc
	isTerminalFunc = func() bool { return isTerminal }
	t.Cleanup(func() { isTerminalFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			} else if tt.wantErr != nil || tt.wantErrStr != "" {
				t.Errorf("cli.run() error = nil, wantErr %v%s", tt.wantErr, tt.wantErrStr)
			}
		})
	}
}

func Test_commandLine_run(t *testing.T) {
	e := setup(t)

	runCLITests(t, e.cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "allocations: no family", args: []string{"allocations"}, wantErr: errHelp},
		{name: "allocations: unknown status", args: []string{"allocations", "-family", "f", "-status", "nope"}, wantErrStr: `unknown status "nope"`},
		{name: "billingrun: bad flag", args: []string{"billingrun", "-month", "lol"}, wantErrStr: `invalid value "lol" for flag -month: parse error`},
	})
}

func Test_commandLine_migrate(t *testing.T) {
	e := setup(t)

	orig := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = orig })
	gooseRunFunc = func(command string, db *sql.DB, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, e.cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "fee_structures", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})
}

func Test_commandLine_billingRun(t *testing.T) {
	e := setup(t)
	fam := e.CreateFamily("kamau", "200")
	amani := e.CreateStudent(fam.ID, "amani")
	e.Subscribe(amani.ID, "1000", "100", testutil.Date(2024, 1, 1))
	baraka := e.CreateStudent(fam.ID, "baraka")
	e.Subscribe(baraka.ID, "300", "0", testutil.Date(2024, 1, 1))
	e.CreateStudent("", "no subscription")

	t.Run("json", func(t *testing.T) {
		mockTerminal(t, false)
		e.out.Reset()

		require.NoError(t, e.cli.run([]string{"admin", "billingrun", "-month", "3", "-year", "2024"}))

		var report fee.Report
		require.NoError(t, json.Unmarshal(e.out.Bytes(), &report))
		assert.Equal(t, fee.Period{Month: 3, Year: 2024}, report.Period)
		assert.Equal(t, 2, report.Total) // students without a priced subscription are not billed
		assert.Equal(t, 2, report.Created)
	})

	t.Run("table", func(t *testing.T) {
		mockTerminal(t, true)
		e.out.Reset()

		require.NoError(t, e.cli.run([]string{"admin", "billingrun", "-month", "3", "-year", "2024"}))

		out := e.out.String()
		assert.Contains(t, out, "for 2024-03")
		assert.Contains(t, out, "total: 2, created: 0, updated: 0, unchanged: 2, skipped: 0, failed: 0")
		assert.Contains(t, out, "STUDENT")
		assert.Contains(t, out, amani.ID)
	})

	t.Run("invalid period", func(t *testing.T) {
		err := e.cli.run([]string{"admin", "billingrun", "-month", "13", "-year", "2024"})
		assert.Error(t, err)
	})
}

func Test_commandLine_refreshOverdue(t *testing.T) {
	e := setup(t)
	mockTerminal(t, false)

	require.NoError(t, e.cli.run([]string{"admin", "refreshoverdue"}))
	assert.JSONEq(t, `{"overdue": 0}`, e.out.String())
}

func Test_commandLine_listAllocations(t *testing.T) {
	e := setup(t)
	fam := e.CreateFamily("kamau", "0")
	st := e.CreateStudent(fam.ID, "amani")
	e.Subscribe(st.ID, "1000", "0", testutil.Date(2024, 1, 1))
	for month := 1; month <= 2; month++ {
		_, _, err := e.cli.feeSvc.UpsertAllocation(context.Background(), st.ID, fee.Period{Month: month, Year: 2024})
		require.NoError(t, err)
	}

	t.Run("json", func(t *testing.T) {
		mockTerminal(t, false)
		e.out.Reset()

		require.NoError(t, e.cli.run([]string{"admin", "allocations", "-family", fam.ID}))

		var allocs []fee.Allocation
		require.NoError(t, json.Unmarshal(e.out.Bytes(), &allocs))
		require.Len(t, allocs, 2)
		assert.Equal(t, 1, allocs[0].Month)
		assert.Equal(t, 2, allocs[1].Month)
	})

	t.Run("table filtered by status", func(t *testing.T) {
		mockTerminal(t, true)
		e.out.Reset()

		require.NoError(t, e.cli.run([]string{"admin", "allocations", "-family", fam.ID, "-status", "overdue"}))

		out := e.out.String()
		assert.Contains(t, out, "2024-01")
		assert.Contains(t, out, "2024-02")
		assert.Contains(t, out, "1000.00")
		assert.Contains(t, out, "OVERDUE")
	})

	t.Run("unknown family", func(t *testing.T) {
		err := e.cli.run([]string{"admin", "allocations", "-family", "nope"})
		assert.True(t, fee.IsNotFound(err))
	})
}
