package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"openplay-matchmaking/storage"
)

// Ошибки оркестратора. Вызывающая сторона различает их через errors.Is.
var (
	// Нарушение конечного автомата статусов или матча
	ErrInvalidTransition = errors.New("invalid state transition")

	// Ошибки корта и матча
	ErrCourtClosed         = errors.New("court is closed")
	ErrDuplicateMatch      = errors.New("court already has an active match")
	ErrIncompleteRoster    = errors.New("court roster is incomplete")
	ErrInsufficientPlayers = errors.New("not enough ready players")
	ErrNoActiveMatch       = errors.New("no active match for court")
	ErrCapacityExceeded    = errors.New("court capacity exceeded")
	ErrCourtBusy           = errors.New("another command is running on this court")

	// Поиск
	ErrParticipantNotFound = errors.New("participant not found")
	ErrCourtNotFound       = errors.New("court not found")
	ErrNotSeated           = errors.New("participant is not seated on this team")

	// Общая ошибка удаленного вызова, ей соответствует любой *RemoteError
	ErrRemoteCallFailed = errors.New("remote call failed")
)

// RemoteCause категория сбоя удаленного вызова
type RemoteCause int

const (
	CauseUnknown RemoteCause = iota
	CauseNetwork
	CauseNotFound
	CauseConflict
)

// String возвращает название категории
func (c RemoteCause) String() string {
	switch c {
	case CauseNetwork:
		return "network"
	case CauseNotFound:
		return "not_found"
	case CauseConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// RemoteError сбой вызова хранилища матчей или ростера.
// Если компенсирующий откат тоже не удался, Cause = CauseUnknown, а RollbackErr содержит его ошибку.
type RemoteError struct {
	Op          string
	Cause       RemoteCause
	Err         error
	RollbackErr error
}

func (e *RemoteError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("remote %s failed (%s): %v; rollback failed: %v", e.Op, e.Cause, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("remote %s failed (%s): %v", e.Op, e.Cause, e.Err)
}

// Unwrap позволяет errors.Is находить и ErrRemoteCallFailed, и исходные ошибки
func (e *RemoteError) Unwrap() []error {
	errs := []error{ErrRemoteCallFailed}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}

// newRemoteError оборачивает ошибку хранилища с классификацией причины
func newRemoteError(op string, err error) *RemoteError {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr
	}
	return &RemoteError{Op: op, Cause: classify(err), Err: err}
}

// RemoteCauseOf возвращает категорию сбоя, если err содержит *RemoteError
func RemoteCauseOf(err error) (RemoteCause, bool) {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		return CauseUnknown, false
	}
	return remoteErr.Cause, true
}

func classify(err error) RemoteCause {
	var netErr net.Error
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return CauseNotFound
	case errors.Is(err, storage.ErrAlreadyAssigned),
		errors.Is(err, storage.ErrTeamFull),
		errors.Is(err, storage.ErrMatchExists),
		errors.Is(err, storage.ErrConflict):
		return CauseConflict
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return CauseNetwork
	default:
		return CauseUnknown
	}
}
