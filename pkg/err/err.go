package errprocess

import (
	"errors"
	"fmt"

	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Kind classifies a failure. Kinds are comparable sentinels so callers can use errors.Is.
type Kind struct {
	name string
}

// NewKind create failure kind
func NewKind(name string) *Kind {
	return &Kind{name: name}
}

func (k *Kind) Error() string {
	return k.name
}

// Failure is a classified, logged error
type Failure struct {
	Kind   *Kind
	Op     string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	msg := f.Kind.name
	if f.Op != "" {
		msg = f.Op + ": " + msg
	}
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Is match failure kind
func (f *Failure) Is(target error) bool {
	k, ok := target.(*Kind)
	return ok && k == f.Kind
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// New create and log a failure without cause
func New(kind *Kind, op, reason string) *Failure {
	f := &Failure{Kind: kind, Op: op, Reason: reason}
	logger.Log.Warn("failure", zap.String("kind", kind.name), zap.String("op", op), zap.String("reason", reason))
	return f
}

// Wrap create and log a failure caused by err
func Wrap(kind *Kind, op string, err error) *Failure {
	f := &Failure{Kind: kind, Op: op, Err: err}
	logger.Log.Error("failure", zap.String("kind", kind.name), zap.String("op", op), zap.Error(err))
	return f
}

// Wrapf same as Wrap with a formatted reason
func Wrapf(kind *Kind, op string, err error, format string, args ...interface{}) *Failure {
	f := &Failure{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...), Err: err}
	logger.Log.Error("failure", zap.String("kind", kind.name), zap.String("op", op), zap.String("reason", f.Reason), zap.Error(err))
	return f
}

// As extract *Failure from err
func As(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
