package main

import (
	"fmt"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
	emailsvc "github.com/trezcool/masomo-billing/services/email"
	logsvc "github.com/trezcool/masomo-billing/services/logger"
	"github.com/trezcool/masomo-billing/storage/database"
	boiledrepos "github.com/trezcool/masomo-billing/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/masomo-billing/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	std := logrus.New()
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)
	defer logger.Close()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() { _ = db.Close() }()
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("pinging database: %v", err), err)
	}

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	fee.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	// start CLI
	cli := commandLine{
		db: db,
		feeSvc: fee.NewService(fee.ServiceDeps{
			Store:      boiledrepos.NewStore(db, conf.Billing.LockTimeout),
			Directory:  sqlxrepos.NewDirectory(sqlx.NewDb(db, conf.Database.Engine)),
			Validate:   validate,
			Translator: translator,
			MailSvc:    mailSvc,
			Logger:     logger,
			Conf:       conf,
		}),
		out: os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		logger.Close()
		os.Exit(1)
	}
}
