package storage

import "errors"

// Коды ошибок Postgres, которые репозитории переводят в sentinel-ошибки.
const (
	UniqueViolation      = "23505"
	LockNotAvailable     = "55P03"
	DeadlockDetected     = "40P01"
	SerializationFailure = "40001"
)

// Ключи таблицы config.
const (
	KeyMagazineMode = "magazine_mode"
)

var (
	ErrConfigNotFound = errors.New("config key not found")
	ErrMessageExists  = errors.New("message already processed")
	ErrStoreBusy      = errors.New("store is locked by another writer")
	ErrLeaseHeld      = errors.New("lease is held by another owner")
)
