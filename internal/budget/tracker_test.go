package budget

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// spend is one recorded invocation.
type spend struct {
	in, out int
	cost    float64
}

func TestTracker_ShouldStop(t *testing.T) {
	tests := []struct {
		name       string
		limits     Limits
		spends     []spend
		wantStop   bool
		wantReason string
	}{
		{
			name:   "no limits never stops",
			limits: Limits{},
			spends: []spend{{1_000_000, 1_000_000, 500}},
		},
		{
			name:   "under every limit",
			limits: Limits{MaxInvocations: 3, MaxTokens: 1000, MaxCost: 1},
			spends: []spend{{100, 50, 0.10}, {100, 50, 0.10}},
		},
		{
			name:       "planner and agent calls share the invocation cap",
			limits:     Limits{MaxInvocations: 2},
			spends:     []spend{{15, 5, 0.001}, {100, 50, 0.01}},
			wantStop:   true,
			wantReason: "invocation limit reached (2/2)",
		},
		{
			name:       "an invocation with no usage still counts",
			limits:     Limits{MaxInvocations: 1},
			spends:     []spend{{}},
			wantStop:   true,
			wantReason: "invocation limit reached (1/1)",
		},
		{
			name:       "tokens sum input and output",
			limits:     Limits{MaxTokens: 200},
			spends:     []spend{{120, 80, 0}},
			wantStop:   true,
			wantReason: "token limit reached (200/200)",
		},
		{
			name:       "cost crossing the cap",
			limits:     Limits{MaxCost: 0.5},
			spends:     []spend{{0, 0, 0.3}, {0, 0, 0.3}},
			wantStop:   true,
			wantReason: "cost limit reached ($0.60/$0.50)",
		},
		{
			name:       "invocations are checked before tokens",
			limits:     Limits{MaxInvocations: 1, MaxTokens: 10},
			spends:     []spend{{100, 0, 0}},
			wantStop:   true,
			wantReason: "invocation limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(tt.limits)
			for _, s := range tt.spends {
				tracker.Add(s.in, s.out, s.cost)
			}

			stop, reason := tracker.ShouldStop()
			if stop != tt.wantStop {
				t.Fatalf("ShouldStop() = %v (%q), want %v", stop, reason, tt.wantStop)
			}
			if !strings.HasPrefix(reason, tt.wantReason) {
				t.Errorf("reason = %q, want prefix %q", reason, tt.wantReason)
			}
			if !stop && reason != "" {
				t.Errorf("reason = %q without a stop", reason)
			}
		})
	}
}

func TestTracker_ShouldStop_Duration(t *testing.T) {
	tracker := NewTracker(Limits{MaxDuration: 20 * time.Millisecond})
	if stop, _ := tracker.ShouldStop(); stop {
		t.Fatal("ShouldStop() = true before the deadline")
	}

	time.Sleep(30 * time.Millisecond)
	stop, reason := tracker.ShouldStop()
	if !stop || !strings.HasPrefix(reason, "duration limit reached") {
		t.Errorf("ShouldStop() = %v, %q; want duration limit", stop, reason)
	}
}

func TestTracker_Remaining(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		spends []spend
		want   Remaining
	}{
		{
			name:   "unlimited is -1",
			limits: Limits{},
			spends: []spend{{10, 10, 1}},
			want:   Remaining{Invocations: -1, Tokens: -1, Cost: -1, Duration: -1},
		},
		{
			name:   "headroom under limits",
			limits: Limits{MaxInvocations: 5, MaxTokens: 1000, MaxCost: 2},
			spends: []spend{{15, 5, 0.5}, {100, 50, 0.5}},
			want:   Remaining{Invocations: 3, Tokens: 830, Cost: 1, Duration: -1},
		},
		{
			name:   "overspend floors at zero",
			limits: Limits{MaxInvocations: 1, MaxTokens: 100, MaxCost: 0.1},
			spends: []spend{{200, 200, 1}, {1, 1, 1}},
			want:   Remaining{Invocations: 0, Tokens: 0, Cost: 0, Duration: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(tt.limits)
			for _, s := range tt.spends {
				tracker.Add(s.in, s.out, s.cost)
			}
			if got := tracker.Remaining(); got != tt.want {
				t.Errorf("Remaining() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTracker_Remaining_Duration(t *testing.T) {
	tracker := NewTracker(Limits{MaxDuration: time.Hour})
	got := tracker.Remaining().Duration
	if got <= 59*time.Minute || got > time.Hour {
		t.Errorf("Remaining().Duration = %v, want just under 1h", got)
	}
}

func TestTracker_ConcurrentAdd(t *testing.T) {
	tracker := NewTracker(Limits{MaxInvocations: 1000, MaxTokens: 1_000_000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tracker.Add(10, 5, 0.01)
				tracker.ShouldStop()
			}
		}()
	}
	wg.Wait()

	r := tracker.Remaining()
	if r.Invocations != 500 {
		t.Errorf("Remaining().Invocations = %d, want 500", r.Invocations)
	}
	if r.Tokens != 1_000_000-500*15 {
		t.Errorf("Remaining().Tokens = %d, want %d", r.Tokens, 1_000_000-500*15)
	}
}

func TestUsage_TotalTokens(t *testing.T) {
	if got := (Usage{TokensIn: 120, TokensOut: 80}).TotalTokens(); got != 200 {
		t.Errorf("TotalTokens() = %d, want 200", got)
	}
}
