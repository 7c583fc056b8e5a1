package channel

import "errors"

var (
	ErrAlreadySubscribed = errors.New("already subscribed to room")
	ErrForeignHandle     = errors.New("subscription belongs to another channel")
	ErrJoinRejected      = errors.New("relay rejected join")
)
