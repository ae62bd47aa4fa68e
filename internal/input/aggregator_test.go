package input

import (
	"math"
	"testing"
	"time"

	"fortwave/netclient/internal/clock"
)

type sentSample struct {
	dx, dz float64
	at     time.Time
}

func TestFlushSendsOnlyTheLatestSample(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	var sent []sentSample
	agg := New(manual, nil, func() bool { return true }, func(dx, dz float64, at time.Time) {
		sent = append(sent, sentSample{dx: dx, dz: dz, at: at})
	})
	agg.Start()

	agg.Queue(1, 0)
	agg.Queue(0, 1)
	agg.Queue(-1, 0.5)
	manual.Advance(DefaultInterval)

	if len(sent) != 1 {
		t.Fatalf("expected exactly one send per tick, got %d", len(sent))
	}
	if sent[0].dx != -1 || sent[0].dz != 0.5 {
		t.Fatalf("expected the newest vector to win, got %+v", sent[0])
	}
	if c := agg.Counters(); c.Superseded != 2 || c.Sent != 1 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestIdleTicksSendNothing(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	sends := 0
	agg := New(manual, nil, func() bool { return true }, func(float64, float64, time.Time) { sends++ })
	agg.Start()

	manual.Advance(10 * DefaultInterval)

	if sends != 0 {
		t.Fatalf("idle aggregator sent %d samples", sends)
	}
}

func TestSlotWaitsOutDisconnection(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	live := false
	var sent []sentSample
	agg := New(manual, nil, func() bool { return live }, func(dx, dz float64, at time.Time) {
		sent = append(sent, sentSample{dx: dx, dz: dz, at: at})
	})
	agg.Start()

	agg.Queue(2, 3)
	manual.Advance(2 * DefaultInterval)
	if len(sent) != 0 {
		t.Fatalf("nothing should ship while disconnected, got %d", len(sent))
	}

	live = true
	manual.Advance(DefaultInterval)
	if len(sent) != 1 || sent[0].dx != 2 || sent[0].dz != 3 {
		t.Fatalf("held sample should ship once live, got %+v", sent)
	}
	if c := agg.Counters(); c.Held != 2 {
		t.Fatalf("expected 2 held ticks, got %+v", c)
	}
}

func TestSamplesAreStampedAtFlushTime(t *testing.T) {
	start := time.Unix(50, 0)
	manual := clock.NewManual(start)
	var stamps []time.Time
	agg := New(manual, nil, func() bool { return true }, func(_, _ float64, at time.Time) {
		stamps = append(stamps, at)
	})
	agg.Start()

	agg.Queue(1, 1)
	manual.Advance(DefaultInterval)
	agg.Queue(1, 1)
	manual.Advance(DefaultInterval)

	if len(stamps) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(stamps))
	}
	if !stamps[0].Equal(start.Add(DefaultInterval)) || !stamps[1].Equal(start.Add(2*DefaultInterval)) {
		t.Fatalf("unexpected stamps %v", stamps)
	}
}

func TestQueueRejectsUnencodableVectors(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	var sent []sentSample
	agg := New(manual, nil, func() bool { return true }, func(dx, dz float64, at time.Time) {
		sent = append(sent, sentSample{dx: dx, dz: dz, at: at})
	})
	agg.Start()

	agg.Queue(math.NaN(), 1)
	agg.Queue(0, math.Inf(1))
	manual.Advance(DefaultInterval)
	if len(sent) != 0 {
		t.Fatalf("unencodable samples must never ship, got %+v", sent)
	}

	agg.Queue(math.Inf(-1), math.NaN())
	agg.Queue(0.25, -0.75)
	manual.Advance(DefaultInterval)
	if len(sent) != 1 || sent[0].dx != 0.25 || sent[0].dz != -0.75 {
		t.Fatalf("the finite sample should ship untouched, got %+v", sent)
	}
	if c := agg.Counters(); c.Rejected != 3 || c.Sent != 1 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestStopDropsSlotAndTicker(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	sends := 0
	agg := New(manual, nil, func() bool { return true }, func(float64, float64, time.Time) { sends++ })
	agg.Start()

	agg.Queue(1, 1)
	agg.Stop()
	manual.Advance(10 * DefaultInterval)

	if sends != 0 {
		t.Fatalf("stopped aggregator sent %d samples", sends)
	}
	if pending := manual.Pending(); len(pending) != 0 {
		t.Fatalf("ticker survived Stop: %v", pending)
	}
}
