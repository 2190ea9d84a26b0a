package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrClientNotFound = errors.New("client not found")
	ErrClientExists   = errors.New("client already exists")
	ErrUnknownStep    = errors.New("unknown process step")
	ErrInvalidInput   = errors.New("invalid input")
	ErrBackupDisabled = errors.New("backup monitor not configured")
)
