package quota

import "errors"

var (
	ErrMissingClientKey = errors.New("client key is required")
	ErrServiceFailure   = errors.New("quota service request failed")
)
