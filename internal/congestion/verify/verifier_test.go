package verify

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"congestion/internal/congestion/persistence"
)

// trackingStore wraps a MemoryStore and records cursor open/close pairs.
type trackingStore struct {
	*persistence.MemoryStore
	opened, closed int
	scanErr        error
}

func (s *trackingStore) Map(ctx context.Context, name string) (persistence.Map, bool, error) {
	m, ok, err := s.MemoryStore.Map(ctx, name)
	if !ok || err != nil {
		return m, ok, err
	}
	return &trackingMap{Map: m, s: s}, true, nil
}

type trackingMap struct {
	persistence.Map
	s *trackingStore
}

func (m *trackingMap) ScanNode(ctx context.Context, node persistence.NodeID) persistence.Cursor {
	m.s.opened++
	return &trackingCursor{Cursor: m.Map.ScanNode(ctx, node), s: m.s}
}

type trackingCursor struct {
	persistence.Cursor
	s *trackingStore
}

func (c *trackingCursor) Err() error {
	if c.s.scanErr != nil {
		return c.s.scanErr
	}
	return c.Cursor.Err()
}

func (c *trackingCursor) Close() error {
	c.s.closed++
	return c.Cursor.Close()
}

func loaded(t *testing.T, nodes, n int) *trackingStore {
	t.Helper()
	s := &trackingStore{MemoryStore: persistence.NewMemoryStore(nodes)}
	m, err := s.GetOrCreateMap(context.Background(), "5min_congestion")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for k := int64(1); k <= int64(n); k++ {
		_ = m.Put(context.Background(), k, map[string]string{"offer_date": "d", "offer_hour": "1"})
	}
	return s
}

func TestVerify_SamplesAtMostFivePerNode(t *testing.T) {
	s := loaded(t, 3, 100)
	var out bytes.Buffer
	v := &Verifier{Store: s, Out: &out}
	rep, err := v.Verify(context.Background(), "5min_congestion")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rep.Found || len(rep.Nodes) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	for _, ns := range rep.Nodes {
		if len(ns.Entries) != DefaultSamplePerNode {
			t.Fatalf("node %s sampled %d", ns.Node, len(ns.Entries))
		}
	}
	if s.opened != 3 || s.closed != 3 {
		t.Fatalf("cursors opened=%d closed=%d", s.opened, s.closed)
	}
	if !strings.Contains(out.String(), "Verifying data distribution for cache: 5min_congestion") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestVerify_FewerEntriesThanLimit(t *testing.T) {
	s := loaded(t, 4, 2)
	rep, err := (&Verifier{Store: s, SamplePerNode: 5}).Verify(context.Background(), "5min_congestion")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rep.Sampled() != 2 || len(rep.Nodes) != 4 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestVerify_NotFound(t *testing.T) {
	s := loaded(t, 1, 1)
	var out bytes.Buffer
	logger, hook := test.NewNullLogger()
	rep, err := (&Verifier{Store: s, Out: &out, Logger: logger}).Verify(context.Background(), "1hour_congestion")
	if err != nil || rep.Found || len(rep.Nodes) != 0 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if !strings.Contains(out.String(), "Cache 1hour_congestion not found.") {
		t.Fatalf("output = %q", out.String())
	}
	if hook.LastEntry() == nil || hook.LastEntry().Data["dataset"] != "1hour_congestion" {
		t.Fatalf("not-found not logged")
	}
	if s.opened != 0 {
		t.Fatalf("no cursor should be opened for a missing map")
	}
}

func TestVerify_Idempotent(t *testing.T) {
	s := loaded(t, 2, 20)
	v := &Verifier{Store: s, SamplePerNode: 3}
	a, err := v.Verify(context.Background(), "5min_congestion")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := v.Verify(context.Background(), "5min_congestion")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("verification changed state:\n%+v\n%+v", a, b)
	}
	m, _, _ := s.MemoryStore.Map(context.Background(), "5min_congestion")
	if n, _ := m.Size(context.Background()); n != 20 {
		t.Fatalf("size after verify = %d", n)
	}
}

func TestVerify_ScanErrorClosesCursor(t *testing.T) {
	s := loaded(t, 2, 10)
	boom := errors.New("node went away")
	s.scanErr = boom
	_, err := (&Verifier{Store: s}).Verify(context.Background(), "5min_congestion")
	if !errors.Is(err, boom) {
		t.Fatalf("want scan error, got %v", err)
	}
	if s.opened != s.closed || s.opened == 0 {
		t.Fatalf("cursor leaked: opened=%d closed=%d", s.opened, s.closed)
	}
}

func TestCheckNodes(t *testing.T) {
	s := loaded(t, 3, 0)
	logger, hook := test.NewNullLogger()
	nodes, err := (&Verifier{Store: s, Logger: logger}).CheckNodes(context.Background())
	if err != nil || len(nodes) != 3 {
		t.Fatalf("nodes=%v err=%v", nodes, err)
	}
	if len(hook.AllEntries()) != 3 || hook.LastEntry().Data["node"] != string(nodes[2]) {
		t.Fatalf("entries = %+v", hook.AllEntries())
	}
}
