package store

import "errors"

// ErrNotFound is returned when a block record or category does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateCategory is returned when a category ID would collide.
var ErrDuplicateCategory = errors.New("store: category already exists")

// ErrLastCategory is returned when deleting the only remaining category.
var ErrLastCategory = errors.New("store: at least one category must remain")

// ErrInvalidLabel is returned for labels that slugify to an empty ID.
var ErrInvalidLabel = errors.New("store: invalid category label")

// ErrInvalidDump is returned by Import for malformed payloads.
var ErrInvalidDump = errors.New("store: invalid dump")
