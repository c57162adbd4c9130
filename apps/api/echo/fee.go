package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core/fee"
)

type feeApi struct {
	svc        fee.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerFeeAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc fee.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := feeApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	// every billing endpoint is restricted to the school administration and the bursars
	ag := g.Group("", jwt, adminMiddleware(RoleAdmin, RoleAdminBursar))

	ag.POST("/fees/calculate", api.calculate)

	ag.PUT("/allocations", api.upsertAllocation)
	ag.GET("/allocations/:id", api.retrieveAllocation)
	ag.GET("/families/:id/allocations", api.queryFamilyAllocations)

	ag.POST("/payments", api.recordPayment)
	ag.GET("/payments/:id", api.retrievePayment)

	ag.POST("/billing-runs", api.runBilling)
	ag.GET("/billing-runs/:id", api.retrieveBillingRun)
}

// Handlers

func (api *feeApi) calculate(ctx echo.Context) error {
	var data StudentPeriodRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentPeriodRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	calc, err := api.svc.CalculateFee(ctx.Request().Context(), data.StudentID, data.Period())
	if err != nil {
		return errors.Wrap(err, "calculating fee")
	}

	return ctx.JSON(http.StatusOK, calc)
}

func (api *feeApi) upsertAllocation(ctx echo.Context) error {
	var data StudentPeriodRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentPeriodRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	alloc, result, err := api.svc.UpsertAllocation(ctx.Request().Context(), data.StudentID, data.Period())
	if err != nil {
		return errors.Wrap(err, "upserting allocation")
	}

	code := http.StatusOK
	if result == fee.UpsertCreated {
		code = http.StatusCreated
	}
	return ctx.JSON(code, UpsertResponse{Result: result, Allocation: alloc})
}

func (api *feeApi) retrieveAllocation(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}

	alloc, err := api.svc.GetAllocation(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting allocation")
	}

	return ctx.JSON(http.StatusOK, alloc)
}

func (api *feeApi) queryFamilyAllocations(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}

	var ord Ordering
	ord.Bind(ctx)

	allocs, err := api.svc.QueryFamilyAllocations(ctx.Request().Context(), id, bindQueryFilter(ctx), ord.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying family allocations")
	}

	return ctx.JSON(http.StatusOK, allocs)
}

func (api *feeApi) recordPayment(ctx echo.Context) error {
	var data NewPaymentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPaymentRequest")
	}
	np, err := data.NewPayment()
	if err != nil {
		return err
	}

	payment, err := api.svc.RecordPayment(ctx.Request().Context(), np)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}

	return ctx.JSON(http.StatusCreated, payment)
}

func (api *feeApi) retrievePayment(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}

	payment, err := api.svc.GetPayment(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting payment")
	}

	return ctx.JSON(http.StatusOK, payment)
}

func (api *feeApi) runBilling(ctx echo.Context) error {
	var data BillingRunRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BillingRunRequest")
	}

	report, err := api.svc.RunBillingCycle(ctx.Request().Context(), data.Period())
	if err != nil {
		return errors.Wrap(err, "running billing cycle")
	}

	return ctx.JSON(http.StatusOK, report)
}

func (api *feeApi) retrieveBillingRun(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}

	report, err := api.svc.GetBillingRun(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting billing run")
	}

	return ctx.JSON(http.StatusOK, report)
}

// idParam returns the :id path param; ids that are not UUIDs cannot exist.
func idParam(ctx echo.Context) (string, error) {
	id := ctx.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", errHttpNotFound
	}
	return id, nil
}
