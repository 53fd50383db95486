package risk

import "errors"

var (
	// ErrInvalidInput marks bad numeric arguments. Fatal to the call, never
	// retried and never silently defaulted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientRiskDistance means entry and stop coincide, so a position
	// size cannot be derived. The signal is rejected and no order is placed.
	ErrInsufficientRiskDistance = errors.New("insufficient risk distance")
)
