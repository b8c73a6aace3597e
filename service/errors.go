package service

import (
	"errors"

	"github.com/cenkalti/backoff/v5"

	"worker-walkthrough/pkg/apperror"
)

var ErrNonRetryable = errors.New("non-retryable error")

// terminal joins ErrNonRetryable to errors that a redelivery cannot fix.
func terminal(err error) error {
	if err == nil || errors.Is(err, ErrNonRetryable) {
		return err
	}
	switch apperror.CodeOf(err) {
	case apperror.CodeValidation,
		apperror.CodeAPIContract,
		apperror.CodeInvalidResponse,
		apperror.CodeAllRoomsFailed,
		apperror.CodeComposition,
		apperror.CodeSubscriptionRequired,
		apperror.CodeNotFound,
		apperror.CodeCancelled:
		return errors.Join(ErrNonRetryable, err)
	}
	return err
}

func unwrapPermanent(err error) error {
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return pe.Unwrap()
	}
	return err
}
