package nextfs

import (
	"errors"

	"github.com/rstms/go-common"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrIO                = errors.New("i/o error")
	ErrInvalidVolume     = errors.New("invalid or unsupported volume")
	ErrCorrupt           = errors.New("corrupt filesystem")
	ErrNotFound          = errors.New("not found")
	ErrNotDirectory      = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrNoSpace           = errors.New("capacity exhausted")
	ErrNoMemory          = errors.New("out of memory")
	ErrExists            = errors.New("already exists")
	ErrNotEmpty          = errors.New("directory not empty")
	ErrProtected         = errors.New("protected entry")
	ErrUnsupported       = errors.New("operation not supported")
	ErrInvalidPath       = errors.New("invalid path")
	ErrWrongBackend      = errors.New("node belongs to another backend")
)

// PathError records the operation and path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

type annotated struct {
	msg   string
	cause error
}

func (e *annotated) Error() string {
	return e.msg
}

func (e *annotated) Unwrap() error {
	return e.cause
}

// Fatal annotates err through go-common; the cause stays reachable with
// errors.Is and errors.As.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &annotated{msg: common.Fatal(err).Error(), cause: err}
}

// Fatalf returns a new annotated error without a distinguished kind.
func Fatalf(format string, args ...interface{}) error {
	return common.Fatalf(format, args...)
}
