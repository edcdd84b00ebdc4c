//go:build !sqlite

package storage

import (
	"errors"

	"padbridge/pkg/logx"
)

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, errors.New("storage: sqlite support not compiled in (rebuild with -tags sqlite)")
}
