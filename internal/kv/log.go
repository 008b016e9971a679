package kv

import (
	"encoding/json"
	"fmt"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/message"
)

// Log is the message log and thread reference view of a Store.
type Log struct {
	s *Store
}

// Log returns the message log view.
func (s *Store) Log() *Log {
	return &Log{s: s}
}

// Append writes a log entry. The referenced user must exist.
func (l *Log) Append(e message.Entry) error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.get(userKey(e.UserID)); err != nil {
		return fmt.Errorf("append message for %s: %w", e.UserID, err)
	} else if !ok {
		return fmt.Errorf("append message for %s: %w", e.UserID, apperr.ErrNotFound)
	}

	b := s.db.NewBatch()
	defer b.Close()
	seq, err := s.nextSeq(b, "log")
	if err != nil {
		return fmt.Errorf("append message for %s: %w", e.UserID, err)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.Set(seqKey("log/", seq), raw, nil); err != nil {
		return err
	}
	if err := b.Set(seqKey(string(ulogPrefix(e.UserID)), seq), raw, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("append message for %s: %w", e.UserID, err)
	}
	return nil
}

// History returns the newest limit entries of a user, oldest first.
func (l *Log) History(userID string, limit int) ([]message.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	prefix := ulogPrefix(userID)
	return l.newest(prefix, limit, true)
}

// Recent returns the newest limit entries across all users, newest first.
func (l *Log) Recent(limit int) ([]message.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.newest([]byte("log/"), limit, false)
}

func (l *Log) newest(prefix []byte, limit int, chronological bool) ([]message.Entry, error) {
	it, err := l.s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	defer it.Close()

	var entries []message.Entry
	for ok := it.Last(); ok && len(entries) < limit; ok = it.Prev() {
		var e message.Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode %q: %w", it.Key(), err)
		}
		entries = append(entries, e)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	if chronological {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return entries, nil
}

// Count returns the number of log entries.
func (l *Log) Count() (int, error) {
	n, err := l.s.counter("log")
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}

// NewRef allocates a thread reference for userID.
func (l *Log) NewRef(userID string, now time.Time) (uint64, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.get(userKey(userID)); err != nil {
		return 0, fmt.Errorf("new ref for %s: %w", userID, err)
	} else if !ok {
		return 0, fmt.Errorf("new ref for %s: %w", userID, apperr.ErrNotFound)
	}

	b := s.db.NewBatch()
	defer b.Close()
	seq, err := s.nextSeq(b, "ref")
	if err != nil {
		return 0, fmt.Errorf("new ref for %s: %w", userID, err)
	}
	raw, err := json.Marshal(message.Ref{Seq: seq, UserID: userID, CreatedAt: now})
	if err != nil {
		return 0, err
	}
	if err := b.Set(seqKey("ref/", seq), raw, nil); err != nil {
		return 0, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("new ref for %s: %w", userID, err)
	}
	return seq, nil
}

// LookupRef returns the thread reference with seq.
func (l *Log) LookupRef(seq uint64) (message.Ref, error) {
	var ref message.Ref
	ok, err := l.s.getJSON(seqKey("ref/", seq), &ref)
	if err != nil {
		return message.Ref{}, fmt.Errorf("lookup ref %d: %w", seq, err)
	}
	if !ok {
		return message.Ref{}, fmt.Errorf("lookup ref %d: %w", seq, apperr.ErrNotFound)
	}
	return ref, nil
}
