package classifier

import "errors"

var (
	ErrInvalidCatalog  = errors.New("invalid catalog")
	ErrUnknownStrategy = errors.New("unknown fix strategy")
)
