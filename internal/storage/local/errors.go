package local

import "github.com/dsamentor/mentor/internal/domain"

// ErrNotFound is returned when a record is not found
var ErrNotFound = domain.ErrNotFound
