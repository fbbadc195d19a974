package domain

import "errors"

// Таксономия ошибок ядра. Хендлеры маппят их на HTTP-статусы, сервисы оборачивают через %w.
var (
	ErrUnauthorized           = errors.New("operator session is required")
	ErrNotFound               = errors.New("not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrAgentAlreadyRegistered = errors.New("device already has a remote agent")
	ErrRegistrationInProgress = errors.New("device registration is already in progress")
	ErrAgentNotOnline         = errors.New("remote agent is not online")
	ErrSessionClosed          = errors.New("remote session is already closed")
	ErrAgentNotConnected      = errors.New("agent not connected")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrCommandFinished        = errors.New("command already finished")
)
