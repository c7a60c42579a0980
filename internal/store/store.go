// Package store holds the GORM queries shared by handlers and background jobs.
package store

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Page selects a window of a listing; Page is 1-based
type Page struct {
	Page     int
	PageSize int
}

// Offset returns the number of rows to skip
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// TotalPages returns how many pages total rows span
func (p Page) TotalPages(total int64) int {
	if p.PageSize <= 0 {
		return 0
	}
	return (int(total) + p.PageSize - 1) / p.PageSize
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
