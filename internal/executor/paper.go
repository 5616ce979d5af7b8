package executor

import (
	"context"

	"go.uber.org/zap"
)

// Paper fills every order instantly at the requested price. It is the
// default execution mode; live trading is opt-in per config.
type Paper struct {
	Logger *zap.Logger
}

var _ OrderExecutor = (*Paper)(nil)

func NewPaper(logger *zap.Logger) *Paper {
	return &Paper{Logger: logger}
}

func (p *Paper) Open(_ context.Context, order Order) (*Fill, error) {
	return p.fill("open", order)
}

func (p *Paper) Close(_ context.Context, order Order) (*Fill, error) {
	return p.fill("close", order)
}

func (p *Paper) fill(action string, order Order) (*Fill, error) {
	shares, err := sharesFor(order.SizeUSD, order.Price)
	if err != nil {
		return nil, err
	}
	if p.Logger != nil {
		p.Logger.Info("paper fill",
			zap.String("action", action),
			zap.String("market_id", order.MarketID),
			zap.String("side", order.Side),
			zap.String("price", order.Price.String()),
			zap.String("size_usd", order.SizeUSD.String()))
	}
	return &Fill{Price: order.Price, SizeUSD: order.SizeUSD, Shares: shares}, nil
}
