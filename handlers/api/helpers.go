package api

import (
	"errors"

	"rentmail/storage"
	"rentmail/utils"
)

// Fallback counterparty when a chat message names no recipient
const defaultRecipientEmail = "user@example.com"

// FromStoreError maps storage errors to the HTTP-facing AppError
func FromStoreError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, storage.ErrThreadNotFound):
		return utils.NotFoundError("Thread not found", err)
	case errors.Is(err, storage.ErrThreadExists),
		errors.Is(err, storage.ErrInvalidThread),
		errors.Is(err, storage.ErrInvalidMessage):
		return utils.BadRequestError("Invalid request", err)
	default:
		return utils.InternalServerError("Storage failure", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
