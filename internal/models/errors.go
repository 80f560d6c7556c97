package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySubject идентификатор субъекта сессии пуст
	ErrEmptySubject = errors.New("session subject is empty")
	// ErrNoSession нет активной сессии
	ErrNoSession = errors.New("no active session")
	// ErrSessionActive уже идет сессия для другого субъекта
	ErrSessionActive = errors.New("session already active for another subject")
)

func errMissingField(name string) error {
	return fmt.Errorf("missing required field %q", name)
}

// FetchError ошибка pull-запроса. Тик пропускается, следующий выполняется как обычно.
type FetchError struct {
	Subject    string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch sensor data for %q: status %d: %v", e.Subject, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch sensor data for %q: %v", e.Subject, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransportError ошибка push-транспорта при подключении или во время потока
type TransportError struct {
	Op  string // "dial", "subscribe", "stream"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("push transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedPayloadError сообщение push-канала не разбирается в SensorReading
type MalformedPayloadError struct {
	Payload string
	Err     error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed push payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }
