package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ridoystarlord/dbdocsync/logging"
)

// slicePager serves rows from memory the way the Postgres pager does:
// WHERE id > after ORDER BY id LIMIT n.
type slicePager struct {
	rows  []Row
	calls int
}

func newSlicePager(n int) *slicePager {
	p := &slicePager{}
	for i := 1; i <= n; i++ {
		p.rows = append(p.rows, Row{"id": int64(i), "name": "row"})
	}
	return p
}

func (p *slicePager) Page(_ context.Context, after int64, limit int) ([]Row, error) {
	p.calls++
	var out []Row
	for _, r := range p.rows {
		if r.ID() > after {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func TestEachPagesInOrder(t *testing.T) {
	p := newSlicePager(237)

	var sizes []int
	var ids []int64
	n, err := EachLogged(context.Background(), p, 50, logging.Discard(), func(page []Row) error {
		sizes = append(sizes, len(page))
		for _, r := range page {
			ids = append(ids, r.ID())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Each failed: %v", err)
	}

	want := []int{50, 50, 50, 50, 37}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d pages, got %v", len(want), sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("page %d: expected %d rows, got %d", i, want[i], sizes[i])
		}
	}

	if n != 237 || len(ids) != 237 {
		t.Fatalf("expected 237 rows visited, got n=%d ids=%d", n, len(ids))
	}
	for i, id := range ids {
		if id != int64(i+1) {
			t.Fatalf("row %d: expected id %d, got %d", i, i+1, id)
		}
	}
}

func TestEachExactMultipleDoesOneExtraRead(t *testing.T) {
	p := newSlicePager(100)

	pages := 0
	n, err := EachLogged(context.Background(), p, 50, logging.Discard(), func(page []Row) error {
		pages++
		return nil
	})
	if err != nil {
		t.Fatalf("Each failed: %v", err)
	}
	if pages != 2 || n != 100 {
		t.Errorf("expected 2 pages / 100 rows, got %d / %d", pages, n)
	}
	if p.calls != 3 {
		t.Errorf("expected a final empty read, got %d pager calls", p.calls)
	}
}

func TestEachEmpty(t *testing.T) {
	p := newSlicePager(0)

	called := false
	n, err := EachLogged(context.Background(), p, 50, logging.Discard(), func(page []Row) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Each failed: %v", err)
	}
	if called || n != 0 {
		t.Errorf("expected no callbacks, got called=%v n=%d", called, n)
	}
}

func TestEachStopsOnCallbackError(t *testing.T) {
	p := newSlicePager(120)
	boom := errors.New("push failed")

	pages := 0
	n, err := EachLogged(context.Background(), p, 50, logging.Discard(), func(page []Row) error {
		pages++
		if pages == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if pages != 2 || n != 50 {
		t.Errorf("expected to stop at page 2 with 50 rows done, got pages=%d n=%d", pages, n)
	}
}

func TestEachRestartable(t *testing.T) {
	p := newSlicePager(30)

	for run := 0; run < 2; run++ {
		n, err := EachLogged(context.Background(), p, 50, logging.Discard(), func([]Row) error { return nil })
		if err != nil || n != 30 {
			t.Fatalf("run %d: n=%d err=%v", run, n, err)
		}
	}
}

func TestEachRejectsBadInput(t *testing.T) {
	if _, err := Each(context.Background(), newSlicePager(1), 0, func([]Row) error { return nil }); err == nil {
		t.Error("expected error for zero page size")
	}

	unordered := PagerFunc(func(context.Context, int64, int) ([]Row, error) {
		return []Row{{"id": int64(0)}}, nil
	})
	if _, err := EachLogged(context.Background(), unordered, 10, logging.Discard(), func([]Row) error { return nil }); err == nil {
		t.Error("expected error for a page that does not advance")
	}
}

func TestEachHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := EachLogged(ctx, newSlicePager(10), 5, logging.Discard(), func([]Row) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAsInt(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(7), 7, true},
		{int32(7), 7, true},
		{7, 7, true},
		{float64(7), 7, true},
		{7.5, 7, false},
		{json.Number("41"), 41, true},
		{"4100", 4100, true},
		{nil, 0, false},
		{"x", 0, false},
	}
	for _, c := range cases {
		got, ok := AsInt(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("AsInt(%#v) = %d,%v want %d,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}
