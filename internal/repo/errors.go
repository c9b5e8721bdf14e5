package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound — run с таким ID нет в БД.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable — БД не отвечает; запрос можно повторить позже.
	ErrUnavailable = errors.New("run storage unavailable")
)

// dbError добавляет к ошибке драйвера имя операции и сводит её к
// ErrNotFound или ErrUnavailable, когда это возможно.
func dbError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	// pgconn.Timeout не узнаёт голый DeadlineExceeded, а пул возвращает
	// именно его, если таймаут истёк до получения соединения.
	case pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
