package common

import "errors"

var (
	ErrNotFound        = errors.New("entity not found")
	ErrInvariant       = errors.New("invariant violation")
	ErrStageTransition = errors.New("illegal stage transition")
	ErrTerminalDeal    = errors.New("deal is in a terminal stage")
)
