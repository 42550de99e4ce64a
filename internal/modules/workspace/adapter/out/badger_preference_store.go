package out

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	hclog "github.com/hashicorp/go-hclog"

	workspaceout "pocus/internal/modules/workspace/port/out"
)

const badgerKeyPrefix = "pref:"

// BadgerPreferenceStore keeps preferences in an embedded Badger database.
type BadgerPreferenceStore struct {
	db *badger.DB
}

func NewBadgerPreferenceStore(dir string, logger hclog.Logger) (workspaceout.PreferenceStore, error) {
	opts := badger.DefaultOptions(dir)
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger.Named("badger")})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open preference db %s: %w", dir, err)
	}
	return &BadgerPreferenceStore{db: db}, nil
}

func (s *BadgerPreferenceStore) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("read preference %s: %w", key, err)
	}
	return value, found, nil
}

func (s *BadgerPreferenceStore) Set(_ context.Context, key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	return nil
}

func (s *BadgerPreferenceStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + key))
	})
	if err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}

func (s *BadgerPreferenceStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's printf logging into hclog.
type badgerLogger struct {
	hclog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.Trace(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
