package checkpoint

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrEndOfStream     = errors.New("end of stream")
	ErrHandoffClosed   = errors.New("handoff closed")
	ErrInvalidL1Height = errors.New("invalid l1 height")
)

// Kind tells the caller how to react to an error: Network errors are retried on
// the next tick, Storage and Other errors fail the current invocation.
type Kind int

const (
	KindOther Kind = iota
	KindNetwork
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStorage:
		return "storage"
	default:
		return "other"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNetwork:
		return "network error: " + e.Err.Error()
	case KindStorage:
		return "storage error: " + e.Err.Error()
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func NetworkError(err error) error {
	return classify(KindNetwork, err)
}

func StorageError(err error) error {
	return classify(KindStorage, err)
}

func OtherError(err error) error {
	return classify(KindOther, err)
}

func Errorf(kind Kind, format string, args ...any) error {
	return classify(kind, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are reported as KindOther.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindOther
}

func IsNetwork(err error) bool {
	return err != nil && KindOf(err) == KindNetwork
}
