package store

import "errors"

var (
	ErrIndexCorrupted = errors.New("the offset index file maybe corrupted")
	ErrOffsetConflict = errors.New("offset already exists in the index")
	ErrEntryNotFound  = errors.New("offset entry not found in the index")
	ErrDeltaOverflow  = errors.New("offset is out of the segment delta range")
	ErrSegmentFull    = errors.New("segment position exceeds the index position range")
	ErrEmptyBatch     = errors.New("the record batch is empty")
	ErrUnexpectedType = errors.New("codec returned an unexpected type")
)
