package types

import "errors"

// Failure kinds surfaced to clients. Each sentinel maps to a stable wire
// label via ErrorLabel.
var (
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrPriceStale           = errors.New("price stale")
	ErrAccountBusy          = errors.New("account busy")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountInactive      = errors.New("account inactive")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientMargin   = errors.New("insufficient margin")
	ErrLimitPriceNotMet     = errors.New("limit price not met")
	ErrDuplicateClientOrder = errors.New("duplicate client order id")
	ErrPositionNotFound     = errors.New("position not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrPersistDrop          = errors.New("persistence task dropped")
	ErrDbUnavailable        = errors.New("database unavailable")
)

// ErrorLabel returns the stable wire label for an error, falling back to
// "Internal" for anything unrecognized.
func ErrorLabel(err error) string {
	switch {
	case errors.Is(err, ErrPriceUnavailable):
		return "PriceUnavailable"
	case errors.Is(err, ErrPriceStale):
		return "PriceStale"
	case errors.Is(err, ErrAccountBusy):
		return "AccountBusy"
	case errors.Is(err, ErrAccountNotFound):
		return "AccountNotFound"
	case errors.Is(err, ErrAccountInactive):
		return "AccountInactive"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrInsufficientMargin):
		return "InsufficientMargin"
	case errors.Is(err, ErrLimitPriceNotMet):
		return "LimitPriceNotMet"
	case errors.Is(err, ErrDuplicateClientOrder):
		return "DuplicateClientOrderId"
	case errors.Is(err, ErrPositionNotFound):
		return "PositionNotFound"
	case errors.Is(err, ErrOrderNotFound):
		return "OrderNotFound"
	case errors.Is(err, ErrPersistDrop):
		return "PersistDrop"
	case errors.Is(err, ErrDbUnavailable):
		return "DbUnavailable"
	default:
		return "Internal"
	}
}
