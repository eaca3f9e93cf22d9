package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store/memory"
)

type stringInput struct {
	name string
	body string
}

func (s stringInput) Name() string { return s.name }

func (s stringInput) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.body)), nil
}

// assertionLine builds one tab-separated input line.
func assertionLine(rel, start, end, meta string) string {
	uri := "/a/[" + rel + "/," + start + "/," + end + "/]"
	fields := []string{uri, rel, start, end}
	if meta != "" {
		fields = append(fields, meta)
	}
	return strings.Join(fields, "\t")
}

func lines(ls ...string) string {
	return strings.Join(ls, "\n") + "\n"
}

var errInjected = errors.New("injected write failure")

// flakyStore wraps a memory store and fails WriteBatch calls selected by
// failOn, which receives the 1-based call number. It records every batch
// it is handed.
type flakyStore struct {
	*memory.Store

	mu      sync.Mutex
	calls   int
	failOn  func(call int) error
	batches []store.Batch
	onWrite func(call int)
}

func newFlakyStore(inner *memory.Store, failOn func(call int) error) *flakyStore {
	return &flakyStore{Store: inner, failOn: failOn}
}

func (f *flakyStore) WriteBatch(ctx context.Context, b store.Batch) (store.BatchResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.batches = append(f.batches, b)
	f.mu.Unlock()

	if f.failOn != nil {
		if err := f.failOn(call); err != nil {
			return store.BatchResult{}, err
		}
	}
	res, err := f.Store.WriteBatch(ctx, b)
	if err == nil && f.onWrite != nil {
		f.onWrite(call)
	}
	return res, err
}

func (f *flakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func edgeURIs(batches []store.Batch) []string {
	var out []string
	for _, b := range batches {
		for _, e := range b.Edges {
			out = append(out, e.Edge.URI)
		}
	}
	return out
}

func entryURIs(entries []conceptnet.RegistryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.URI
	}
	return out
}
