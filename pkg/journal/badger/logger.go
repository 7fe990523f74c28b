package badger

import (
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// badgerLoggerAdapter routes badger's internal logging through zap.
type badgerLoggerAdapter struct {
	logger *zap.Logger
}

var _ badgerdb.Logger = (*badgerLoggerAdapter)(nil)

func (b *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	b.logger.Info(fmt.Sprintf(format, args...))
}

func (b *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}
