package execution

import (
	"context"
	"fmt"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

// CloseParams identifies the position to close.
// Volume 0 closes the full position; Symbol empty uses the position's own symbol.
type CloseParams struct {
	Ticket int64
	Volume float64
	Symbol string
}

// ClosePosition closes (part of) an open position with an opposite-side deal against its ticket.
// An invalid-request rejection toggles the filling mode between FOK and IOC and retries after
// a short pause, up to CloseMaxAttempts; any other rejection is final.
func (e *Executor) ClosePosition(ctx context.Context, p CloseParams) (*Report, error) {
	report := e.newReport(domain.OperationClose)
	report.enter(StateResolving)

	pos, err := e.gateway.GetPosition(ctx, p.Ticket)
	if err != nil {
		report.enter(StateRejected)
		return report, gatewayError("get position", err)
	}

	symbol := p.Symbol
	if symbol == "" {
		symbol = pos.Symbol
	}
	volume := pos.Volume
	if p.Volume > 0 && p.Volume < pos.Volume {
		volume = p.Volume
	}

	spec, err := e.gateway.GetSymbolSpec(ctx, symbol)
	if err != nil {
		report.enter(StateRejected)
		return report, gatewayError("get symbol spec", err)
	}
	if !spec.Tradable {
		report.enter(StateRejected)
		return report, fmt.Errorf("%w: %s", ports.ErrNotTradable, symbol)
	}

	volume = NormalizeVolume(*spec, volume)
	filling := FillingModeFromBits(spec.FillingModeBits)
	maxAttempts := e.cfg.CloseMaxAttempts

	var last *ports.RejectionError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tick, err := e.gateway.GetTick(ctx, symbol)
		if err != nil {
			report.enter(StateRejected)
			return report, gatewayError("get tick", err)
		}
		price := tick.Ask
		if pos.Side == domain.Buy {
			price = tick.Bid
		}

		req := domain.OrderRequest{
			Symbol:          symbol,
			Side:            pos.Side.Opposite(),
			Volume:          volume,
			Price:           price,
			DeviationPoints: e.cfg.Deviation + e.cfg.CloseDeviationStep*attempt,
			FillingMode:     filling,
			Comment:         fmt.Sprintf("Close %d", p.Ticket),
			Magic:           pos.Magic,
			PositionTicket:  p.Ticket,
		}

		result, lastErr, err := e.submit(ctx, report, req)
		if err != nil {
			report.enter(StateRejected)
			return report, gatewayError("submit close", err)
		}
		if lastErr != nil {
			report.enter(StateRejected)
			return report, &ports.RejectionError{Code: lastErr.Code, Reason: lastErr.Message}
		}

		if result.Retcode == domain.RetcodeDone {
			final := *result
			final.Accepted = true
			final.Profit = pos.Profit
			final.Symbol = symbol
			final.PositionSide = pos.Side
			report.Result = &final
			report.enter(StateDone)
			e.logger.Info(ctx, "Position closed", map[string]interface{}{
				"operationID": report.OperationID,
				"ticket":      p.Ticket,
				"symbol":      symbol,
				"volume":      final.Volume,
				"price":       final.Price,
				"profit":      final.Profit,
				"attempts":    attempt + 1,
			})
			return report, nil
		}

		last = &ports.RejectionError{Code: result.Retcode, Reason: domain.RetcodeReason(result.Retcode)}
		if result.Retcode != domain.RetcodeInvalidRequest {
			report.enter(StateRejected)
			return report, last
		}
		if attempt == maxAttempts-1 {
			break
		}

		report.enter(StateInvalidRequestRetry)
		filling = filling.Toggle()
		e.logger.Warn(ctx, "Close rejected as invalid request, toggling filling mode", map[string]interface{}{
			"operationID": report.OperationID,
			"ticket":      p.Ticket,
			"attempt":     attempt + 1,
			"filling":     filling.String(),
			"delay":       e.cfg.CloseRetryDelay.String(),
		})
		if err := e.sleep(ctx, e.cfg.CloseRetryDelay); err != nil {
			report.enter(StateRejected)
			return report, err
		}
	}

	report.enter(StateRejected)
	cf := &ports.CloseFailedError{Ticket: p.Ticket, Attempts: maxAttempts}
	if last != nil {
		cf.LastCode = last.Code
		cf.LastReason = last.Reason
	}
	return report, cf
}
