package stor

import (
	"errors"

	"github.com/modvault/modvault/pkg/config"
	"gorm.io/gorm"
)

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so that WithTxRetry doesn't run the transaction again. The returned error
// still matches the original with errors.Is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{err: err}
}

func txRetryCount() int {
	retryCount := config.GetIntKeyWithDefault("MODS_TX_RETRY", 3)
	if retryCount < 3 {
		retryCount = 3
	}

	return retryCount
}

// WithTxRetry runs fn in a transaction, retrying failed transactions. Errors wrapped with Permanent
// are returned right away.
func WithTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error

	for i := 0; i < txRetryCount(); i++ {
		err = db.Transaction(fn)
		if err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}

	return err
}
