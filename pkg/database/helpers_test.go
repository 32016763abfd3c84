package database

import (
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pgxmockResult(tag string) pgconn.CommandTag {
	op := tag
	if i := strings.IndexByte(tag, ' '); i > 0 {
		op = tag[:i]
	}
	return pgxmock.NewResult(op, 1)
}
