package reader

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream — за отведённое время сообщение не пришло; поток считается исчерпанным.
	ErrEndOfStream = errors.New("end of stream")
	// ErrNotOpen — чтение вне состояния Open.
	ErrNotOpen = errors.New("reader is not open")
	// ErrAlreadyOpen — повторный Open без Close.
	ErrAlreadyOpen = errors.New("reader is already open")
	// ErrClosed — Open после Close.
	ErrClosed = errors.New("reader is closed")
)

// ConnectionError — не удалось создать консьюмера или запустить доставку.
type ConnectionError struct {
	Op          string // create consumer | start delivery
	Destination string
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s destination=%s: %v", e.Op, e.Destination, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ValidationError — декодированный объект не прошёл валидацию.
type ValidationError struct {
	MessageID string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: message id=%s: %v", e.MessageID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnsupportedMessageTypeError — у сообщения нет тела поддерживаемого вида.
type UnsupportedMessageTypeError struct {
	Expected   string // поддерживаемые виды
	TypeName   string // объявленный тип сообщения
	Diagnostic string // строковое представление сообщения для операторов
}

func (e *UnsupportedMessageTypeError) Error() string {
	return fmt.Sprintf("unsupported message type %q, expected %s: %s", e.TypeName, e.Expected, e.Diagnostic)
}
