package mailer

import "errors"

var (
	ErrFailedToSend  = errors.New("mailer: failed to send email")
	ErrInvalidParams = errors.New("mailer: invalid email parameters")
	ErrInvalidConfig = errors.New("mailer: invalid configuration")
)
