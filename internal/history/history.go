// Package history persists the outcome of every exchange in a BadgerDB
// store so that past battles can be listed and inspected.
//
// Records are msgpack-encoded. The primary key orders records by start time:
//
//	exchange/{unix_nanos:020d}/{id}  → msgpack Record
//	id/{id}                          → primary key
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNotFound is returned by [Store.Get] for an unknown id.
	ErrNotFound = errors.New("history: record not found")

	// ErrClosed is returned by [Store.Check] after Close.
	ErrClosed = errors.New("history: store closed")
)

const (
	recordPrefix = "exchange/"
	idPrefix     = "id/"
)

// Outcome values stored in [Record.Outcome].
const (
	OutcomeFinished = "finished"
	OutcomeCanceled = "canceled"
	OutcomeTimeout  = "timeout"
	OutcomeFailed   = "failed"
)

// Message is one decoded partition of an exchange.
type Message struct {
	Partition int    `json:"partition" msgpack:"partition"`
	FromPeer  bool   `json:"from_peer" msgpack:"from_peer"`
	Hex       string `json:"hex" msgpack:"hex"`
	Start     int    `json:"start" msgpack:"start"`
	End       int    `json:"end" msgpack:"end"`

	// Truncated is set when the payload ended before the last bit marker.
	Truncated bool `json:"truncated,omitempty" msgpack:"truncated,omitempty"`
}

// Record is the stored summary of one exchange.
type Record struct {
	ID              string    `json:"id" msgpack:"id"`
	Role            string    `json:"role" msgpack:"role"`
	Preset          string    `json:"preset" msgpack:"preset"`
	Outcome         string    `json:"outcome" msgpack:"outcome"`
	Error           string    `json:"error,omitempty" msgpack:"error,omitempty"`
	StartedAt       time.Time `json:"started_at" msgpack:"started_at"`
	FinishedAt      time.Time `json:"finished_at" msgpack:"finished_at"`
	Sent            []string  `json:"sent" msgpack:"sent"`
	Received        []Message `json:"received" msgpack:"received"`
	RoundTripMillis int64     `json:"round_trip_ms" msgpack:"round_trip_ms"`
	InputRate       int       `json:"input_rate" msgpack:"input_rate"`
	Partitions      int       `json:"partitions" msgpack:"partitions"`
}

// Options configures [Open].
type Options struct {
	// Dir is the badger data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Useful for tests and for running
	// without persistence.
	InMemory bool

	// Logger receives badger's warnings and errors. Defaults to
	// [slog.Default].
	Logger *slog.Logger
}

// Store is a badger-backed exchange history.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history: Dir is required for on-disk mode")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(slogLogger{log: log.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", opts.Dir, err)
	}
	return &Store{db: db}, nil
}

// Check reports whether the store is open. It backs the readiness probe.
func (s *Store) Check(context.Context) error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(r *Record) []byte {
	return fmt.Appendf(nil, "%s%020d/%s", recordPrefix, r.StartedAt.UnixNano(), r.ID)
}

// Put stores r, replacing any record with the same id.
func (s *Store) Put(_ context.Context, r *Record) error {
	if r.ID == "" {
		return errors.New("history: record id is required")
	}
	data, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", r.ID, err)
	}
	key := recordKey(r)
	idKey := []byte(idPrefix + r.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey)
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(old); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey, key)
	})
	if err != nil {
		return fmt.Errorf("history: put %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the record with the given id.
func (s *Store) Get(_ context.Context, id string) (*Record, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", id, err)
	}
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", id, err)
	}
	return &r, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns every record.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	prefix := []byte(recordPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(prefix, 0xff)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r Record
			err := it.Item().Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &r)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// slogLogger routes badger's log output to slog. Info and debug chatter is
// demoted to debug.
type slogLogger struct {
	log *slog.Logger
}

func (l slogLogger) Errorf(f string, v ...any)   { l.log.Error(fmt.Sprintf(f, v...)) }
func (l slogLogger) Warningf(f string, v ...any) { l.log.Warn(fmt.Sprintf(f, v...)) }
func (l slogLogger) Infof(f string, v ...any)    { l.log.Debug(fmt.Sprintf(f, v...)) }
func (l slogLogger) Debugf(f string, v ...any)   { l.log.Debug(fmt.Sprintf(f, v...)) }
