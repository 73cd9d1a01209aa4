package models

import "errors"

// Ошибки предметной области. Слои ниже оборачивают их через fmt.Errorf("%w: ..."),
// обработчики HTTP сопоставляют их с кодами ответа через errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("change request already decided")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrIntegrity    = errors.New("integrity violation")
)
