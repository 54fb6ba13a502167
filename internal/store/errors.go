package store

import "errors"

var (
	ErrDepartmentNotFound     = errors.New("department not found")
	ErrDepartmentInactive     = errors.New("department inactive")
	ErrDepartmentInUse        = errors.New("department has tickets")
	ErrDepartmentExists       = errors.New("department name already exists")
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrInvalidState           = errors.New("invalid ticket state")
	ErrActiveTicketExists     = errors.New("student already has an active ticket")
	ErrAccessDenied           = errors.New("access denied")
	ErrStaffRequestNotFound   = errors.New("staff request not found")
	ErrStaffRequestNotPending = errors.New("staff request not pending")
	ErrUserNotFound           = errors.New("user not found")
	ErrEmailTaken             = errors.New("email already registered")
	ErrSessionNotFound        = errors.New("session not found")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrUnknownColumn          = errors.New("unknown column")
	ErrInvalidValue           = errors.New("invalid filter value")
)
