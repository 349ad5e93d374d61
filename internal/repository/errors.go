package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	pkgerrors "verifyflow/pkg/errors"
)

// classify 把数据库错误归类：网络、超时、连接类错误标记为可重试，其余原样返回
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := pkgerrors.AsDefinition(err); ok {
		return err
	}
	if isTransientDBError(err) {
		return pkgerrors.Transient(op, err)
	}
	return err
}

func isTransientDBError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, gorm.ErrInvalidDB) {
		return true
	}
	// 调用方主动取消不重试
	if errors.Is(err, context.Canceled) {
		return false
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization / deadlock
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P03": // admin shutdown / cannot connect now
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
