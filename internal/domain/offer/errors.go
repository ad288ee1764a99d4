package offer

import "errors"

var (
	ErrOfferNotFound    = errors.New("offer not found")
	ErrBusinessNotFound = errors.New("business not found")
	// ErrCodeNotFound covers unknown codes, inactive codes and codes of inactive businesses
	ErrCodeNotFound = errors.New("scan code not found")
)
