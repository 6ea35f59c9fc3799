package storage

import "paperbroker/types"

func orderToRecord(o types.Order) OrderRecord {
	return OrderRecord{
		OrderID:           o.OrderID,
		Symbol:            o.Symbol,
		OrderType:         string(o.Type),
		Side:              string(o.Side),
		Quantity:          o.Quantity,
		LimitPrice:        o.LimitPrice,
		StopPrice:         o.StopPrice,
		AvgFillPrice:      o.AvgFillPrice,
		Status:            string(o.Status),
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		CreatedTime:       o.CreatedTime,
		FilledTime:        o.FilledTime,
		CancelledTime:     o.CancelledTime,
		ExpiresAt:         o.ExpiresAt,
		RejectionReason:   o.RejectionReason,
		CancelledReason:   o.CancelledReason,
		StrategyName:      o.StrategyName,
		StopLoss:          o.StopLoss,
		TakeProfit:        o.TakeProfit,
	}
}

func recordToOrder(r OrderRecord) types.Order {
	return types.Order{
		OrderID:           r.OrderID,
		Symbol:            r.Symbol,
		Type:              types.OrderType(r.OrderType),
		Side:              types.Side(r.Side),
		Quantity:          r.Quantity,
		LimitPrice:        r.LimitPrice,
		StopPrice:         r.StopPrice,
		AvgFillPrice:      r.AvgFillPrice,
		Status:            types.OrderStatus(r.Status),
		FilledQuantity:    r.FilledQuantity,
		RemainingQuantity: r.RemainingQuantity,
		CreatedTime:       r.CreatedTime,
		FilledTime:        r.FilledTime,
		CancelledTime:     r.CancelledTime,
		ExpiresAt:         r.ExpiresAt,
		RejectionReason:   r.RejectionReason,
		CancelledReason:   r.CancelledReason,
		StrategyName:      r.StrategyName,
		StopLoss:          r.StopLoss,
		TakeProfit:        r.TakeProfit,
	}
}

func fillToRecord(f types.Fill) FillRecord {
	return FillRecord{
		FillID:               f.FillID,
		OrderID:              f.OrderID,
		FillTime:             f.FillTime,
		FillPrice:            f.FillPrice,
		FillVolume:           f.FillVolume,
		Commission:           f.Commission,
		IsPartial:            f.IsPartial,
		RemainingVolumeAfter: f.RemainingVolumeAfter,
		MarketPrice:          f.MarketPrice,
		Bid:                  f.Bid,
		Ask:                  f.Ask,
		BarVolume:            f.BarVolume,
	}
}

func recordToFill(r FillRecord) types.Fill {
	return types.Fill{
		FillID:               r.FillID,
		OrderID:              r.OrderID,
		FillTime:             r.FillTime,
		FillPrice:            r.FillPrice,
		FillVolume:           r.FillVolume,
		Commission:           r.Commission,
		IsPartial:            r.IsPartial,
		RemainingVolumeAfter: r.RemainingVolumeAfter,
		MarketPrice:          r.MarketPrice,
		Bid:                  r.Bid,
		Ask:                  r.Ask,
		BarVolume:            r.BarVolume,
	}
}

func positionToRecord(p types.Position) PositionRecord {
	return PositionRecord{
		PositionID:      p.PositionID,
		Symbol:          p.Symbol,
		Side:            string(p.Side),
		Quantity:        p.Quantity,
		EntryPrice:      p.EntryPrice,
		CurrentPrice:    p.CurrentPrice,
		ExitPrice:       p.ExitPrice,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		IsOpen:          p.IsOpen,
		UnrealizedPnL:   p.UnrealizedPnL,
		RealizedPnL:     p.RealizedPnL,
		TotalCommission: p.TotalCommission,
		TotalSwap:       p.TotalSwap,
		SpreadCost:      p.SpreadCost,
		OpenTime:        p.OpenTime,
		CloseTime:       p.CloseTime,
		ExitReason:      p.ExitReason,
		StrategyName:    p.StrategyName,
	}
}

func recordToPosition(r PositionRecord) types.Position {
	return types.Position{
		PositionID:      r.PositionID,
		Symbol:          r.Symbol,
		Side:            types.Side(r.Side),
		Quantity:        r.Quantity,
		EntryPrice:      r.EntryPrice,
		CurrentPrice:    r.CurrentPrice,
		ExitPrice:       r.ExitPrice,
		StopLoss:        r.StopLoss,
		TakeProfit:      r.TakeProfit,
		IsOpen:          r.IsOpen,
		UnrealizedPnL:   r.UnrealizedPnL,
		RealizedPnL:     r.RealizedPnL,
		TotalCommission: r.TotalCommission,
		TotalSwap:       r.TotalSwap,
		SpreadCost:      r.SpreadCost,
		OpenTime:        r.OpenTime,
		CloseTime:       r.CloseTime,
		ExitReason:      r.ExitReason,
		StrategyName:    r.StrategyName,
	}
}

func tradeToRecord(t types.Trade) TradeRecord {
	return TradeRecord{
		TradeID:       t.TradeID,
		Symbol:        t.Symbol,
		Direction:     string(t.Direction),
		EntryTime:     t.EntryTime,
		ExitTime:      t.ExitTime,
		EntryPrice:    t.EntryPrice,
		ExitPrice:     t.ExitPrice,
		LotSize:       t.LotSize,
		GrossPnL:      t.GrossPnL,
		Commission:    t.Commission,
		Swap:          t.Swap,
		SpreadCost:    t.SpreadCost,
		Slippage:      t.Slippage,
		NetPnL:        t.NetPnL,
		Pips:          t.Pips,
		DurationHours: t.DurationHours,
		ExitReason:    t.ExitReason,
		BalanceAfter:  t.BalanceAfter,
		EquityAfter:   t.EquityAfter,
		DrawdownPct:   t.DrawdownPct,
		StrategyName:  t.StrategyName,
	}
}

func recordToTrade(r TradeRecord) types.Trade {
	return types.Trade{
		TradeID:       r.TradeID,
		Symbol:        r.Symbol,
		Direction:     types.Side(r.Direction),
		EntryTime:     r.EntryTime,
		ExitTime:      r.ExitTime,
		EntryPrice:    r.EntryPrice,
		ExitPrice:     r.ExitPrice,
		LotSize:       r.LotSize,
		GrossPnL:      r.GrossPnL,
		Commission:    r.Commission,
		Swap:          r.Swap,
		SpreadCost:    r.SpreadCost,
		Slippage:      r.Slippage,
		NetPnL:        r.NetPnL,
		Pips:          r.Pips,
		DurationHours: r.DurationHours,
		ExitReason:    r.ExitReason,
		BalanceAfter:  r.BalanceAfter,
		EquityAfter:   r.EquityAfter,
		DrawdownPct:   r.DrawdownPct,
		StrategyName:  r.StrategyName,
	}
}
