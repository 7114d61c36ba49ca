package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New(Config{Spec: "every morning"}, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStartDate(t *testing.T) {
	start := time.Date(2024, 8, 16, 0, 0, 0, 0, time.UTC)
	s, err := New(Config{Spec: "* 3 * * *", Start: start}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before start date",
			now:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			want: time.Date(2024, 8, 16, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "inside the 3am hour",
			now:  time.Date(2024, 9, 1, 3, 10, 30, 0, time.UTC),
			want: time.Date(2024, 9, 1, 3, 11, 0, 0, time.UTC),
		},
		{
			name: "after the 3am hour",
			now:  time.Date(2024, 9, 1, 4, 0, 0, 0, time.UTC),
			want: time.Date(2024, 9, 2, 3, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Next(tt.now); !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestStartDateFiresAtStart(t *testing.T) {
	start := time.Date(2024, 8, 16, 3, 0, 0, 0, time.UTC)
	s, err := New(Config{Spec: "0 3 * * *", Start: start}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Next(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)); !got.Equal(start) {
		t.Errorf("Next = %v, want %v", got, start)
	}
}

func TestNextUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	s, err := New(Config{Spec: "0 3 * * *", Location: loc}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// 00:00 UTC is 19:00 the previous day in loc, so the next 03:00 there
	// is 08:00 UTC.
	got := s.Next(time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC))
	want := time.Date(2024, 8, 20, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
	if got.Location() != loc {
		t.Errorf("Next location = %v, want %v", got.Location(), loc)
	}
}

// tickSchedule fires every interval.
type tickSchedule struct{ interval time.Duration }

func (s tickSchedule) Next(t time.Time) time.Time { return t.Add(s.interval) }

func TestRunSkipsOverlappingRuns(t *testing.T) {
	var (
		mu        sync.Mutex
		active    int
		maxActive int
		completed atomic.Int32
	)
	job := func(ctx context.Context) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		completed.Add(1)
		return errors.New("failed runs do not stop the schedule")
	}

	s := NewWithSchedule(tickSchedule{interval: 10 * time.Millisecond}, time.UTC, job)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxActive)
	}
	if completed.Load() < 2 {
		t.Errorf("completed runs = %d, want at least 2", completed.Load())
	}
	if active != 0 {
		t.Errorf("Run returned with %d runs in flight", active)
	}
}

func TestRunPassesContext(t *testing.T) {
	got := make(chan context.Context, 1)
	s := NewWithSchedule(tickSchedule{interval: 5 * time.Millisecond}, nil, func(ctx context.Context) error {
		select {
		case got <- ctx:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
