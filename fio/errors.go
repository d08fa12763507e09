package fio

import "errors"

var (
	ErrUnsupportedIOType = errors.New("unsupported io type")
	ErrReadOnly          = errors.New("the io manager is read only")
)
