package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Pebble stores entries under "outbox/<tempId>" as JSON. Load sorts by the
// embedded Seq.
type Pebble struct {
	db *pebble.DB
}

var prefix = []byte("outbox/")

func NewPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble outbox: %w", err)
	}
	return &Pebble{db: db}, nil
}

func key(tempID string) []byte {
	return append(append([]byte{}, prefix...), tempID...)
}

// upperBound is the first key after every prefixed key.
func upperBound() []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}

func (p *Pebble) Load(context.Context) ([]Entry, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound()})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode outbox entry %q: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

func (p *Pebble) Put(_ context.Context, e Entry) error {
	if e.TempID == "" {
		return errors.New("outbox entry without temp id")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.db.Set(key(e.TempID), b, pebble.Sync)
}

func (p *Pebble) Delete(_ context.Context, tempID string) error {
	return p.db.Delete(key(tempID), pebble.Sync)
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
