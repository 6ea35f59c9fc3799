package broker

import "errors"

// Sentinel errors for the façade's error-kind taxonomy (spec §7). Pre-trade
// policy rejections have no sentinel here: they surface as order status
// REJECTED with a populated rejection reason, and SubmitOrder returns that
// reason as a plain error alongside false. These sentinels cover
// UnknownOrder/UnknownPosition, TerminalOrder, InvalidParameter and DataGap;
// persistence failures are returned as wrapped store errors.
var (
	ErrUnknownOrder    = errors.New("unknown order")
	ErrUnknownPosition = errors.New("unknown position")
	ErrTerminalOrder   = errors.New("order already in terminal state")
	ErrInvalidParam    = errors.New("invalid parameter")
	ErrDataGap         = errors.New("bar out of order or missing fields")
)
