package sqlite

import "github.com/dsamentor/mentor/internal/background"

// Ensure SQLite stores implement the storage interfaces.
var _ background.StateStore = (*StateStore)(nil)
