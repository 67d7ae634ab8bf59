package stream

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/efreitasn/fractionex/internal/domain"
)

const journalPrefix = "trade/"

// Journal is a durable append-only trade log on Pebble, keyed by trade
// sequence.
type Journal struct {
	db    *pebble.DB
	codec Codec
}

// OpenJournal opens or creates a journal in dir.
func OpenJournal(dir string, codec Codec) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open trade journal: %w", err)
	}
	return &Journal{db: db, codec: codec}, nil
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Name implements Sink.
func (j *Journal) Name() string {
	return "journal"
}

// Write implements Sink. The whole batch is committed with one synced write.
func (j *Journal) Write(_ context.Context, trades []domain.Trade) error {
	b := j.db.NewBatch()
	defer b.Close()

	for _, t := range trades {
		val, err := j.codec.Encode(t)
		if err != nil {
			return err
		}
		if err := b.Set(journalKey(t.Seq), val, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// LastSeq returns the highest journaled trade sequence, or 0 if the journal
// is empty.
func (j *Journal) LastSeq() (uint64, error) {
	iter, err := j.db.NewIter(journalBounds())
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseJournalKey(iter.Key())
}

// Scan calls fn for every journaled trade with Seq ≥ from, in sequence
// order, stopping after limit trades when limit > 0.
func (j *Journal) Scan(from uint64, limit int, fn func(domain.Trade) error) error {
	opts := journalBounds()
	opts.LowerBound = journalKey(from)

	iter, err := j.db.NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && n >= limit {
			break
		}
		t, err := j.codec.Decode(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		n++
	}
	return iter.Error()
}

func journalBounds() *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte(journalPrefix),
		UpperBound: []byte(journalPrefix + "~"),
	}
}

func journalKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", journalPrefix, seq))
}

func parseJournalKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(journalPrefix))), "%d", &seq)
	return seq, err
}
