package mongodb

import "errors"

var (
	ErrFailedToConnect   = errors.New("failed to connect to mongodb")
	ErrHealthcheckFailed = errors.New("mongodb healthcheck failed")
)
