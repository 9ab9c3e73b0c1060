package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrQueueClosed     = errors.New("queue closed")
	ErrBufferClosed    = errors.New("buffer closed")
	ErrUnknownCategory = errors.New("unknown buffer category")
	ErrInvalidTick     = errors.New("invalid tick")
	ErrWSDisconnect    = errors.New("websocket disconnected")
)
