package execution

import (
	"context"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

// PlaceOrder fetches the symbol's current metadata and quote, resolves an executable order
// and executes it. The returned Report is non-nil even when an error is returned.
func (e *Executor) PlaceOrder(ctx context.Context, p PlacementParams) (*Report, error) {
	report := e.newReport(domain.OperationPlace)
	report.enter(StateResolving)

	spec, err := e.gateway.GetSymbolSpec(ctx, p.Symbol)
	if err != nil {
		report.enter(StateRejected)
		return report, gatewayError("get symbol spec", err)
	}
	tick, err := e.gateway.GetTick(ctx, p.Symbol)
	if err != nil {
		report.enter(StateRejected)
		return report, gatewayError("get tick", err)
	}

	req, err := Resolve(*spec, *tick, p, e.cfg.Deviation)
	if err != nil {
		report.enter(StateRejected)
		e.logger.Warn(ctx, "Order parameters could not be resolved", map[string]interface{}{
			"operationID": report.OperationID,
			"symbol":      p.Symbol,
			"side":        string(p.Side),
			"error":       err.Error(),
		})
		return report, err
	}
	e.logger.Debug(ctx, "Order parameters resolved", map[string]interface{}{
		"operationID": report.OperationID,
		"symbol":      req.Symbol,
		"volume":      req.Volume,
		"price":       req.Price,
		"sl":          req.StopLoss,
		"tp":          req.TakeProfit,
		"filling":     req.FillingMode.String(),
	})

	return report, e.execute(ctx, report, req)
}

// Execute submits an already resolved request. A requote reported through the terminal's
// last error widens the deviation and resubmits exactly once; every other failure is final.
func (e *Executor) Execute(ctx context.Context, req domain.OrderRequest) (*Report, error) {
	report := e.newReport(domain.OperationPlace)
	return report, e.execute(ctx, report, req)
}

func (e *Executor) execute(ctx context.Context, report *Report, req domain.OrderRequest) error {
	result, lastErr, err := e.submit(ctx, report, req)
	if err != nil {
		report.enter(StateRejected)
		return gatewayError("submit order", err)
	}

	if lastErr != nil && domain.IsRequote(lastErr.Code) {
		report.enter(StateRequoteRetry)
		retry := req
		retry.DeviationPoints = e.cfg.RequoteDeviation
		e.logger.Warn(ctx, "Requote reported, resubmitting with wider deviation", map[string]interface{}{
			"operationID": report.OperationID,
			"symbol":      req.Symbol,
			"code":        lastErr.Code,
			"deviation":   retry.DeviationPoints,
		})
		result, lastErr, err = e.submit(ctx, report, retry)
		if err != nil {
			report.enter(StateRejected)
			return gatewayError("resubmit order", err)
		}
	}

	if lastErr != nil {
		report.enter(StateRejected)
		return &ports.RejectionError{Code: lastErr.Code, Reason: lastErr.Message}
	}

	if result.Retcode != domain.RetcodeDone {
		report.enter(StateRejected)
		return &ports.RejectionError{Code: result.Retcode, Reason: domain.RetcodeReason(result.Retcode)}
	}

	// Stops are reported as the backend set them, never copied from the request.
	final := *result
	final.Accepted = true
	if final.Comment == "" {
		final.Comment = req.Comment
	}
	report.Result = &final
	report.enter(StateDone)
	return nil
}
