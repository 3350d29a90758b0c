// Package store: авторитетное хранилище снапшота (медленный KV с eventual consistency).
package store

import (
	"context"
	"errors"
)

var (
	// ErrThrottled: чтение не уложилось в лимит запросов к хранилищу.
	ErrThrottled = errors.New("store: read rate limit exceeded")
	// ErrUnavailable: предохранитель разомкнут, хранилище не опрашивается.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store: явная ручка хранилища, передается в сервис через конструктор.
// Get возвращает found=false, если ключ ни разу не писался.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Pinger реализуют драйверы с сетевым подключением, проверяется при старте.
type Pinger interface {
	Ping(ctx context.Context) error
}
