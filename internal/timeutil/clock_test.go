package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	got := clock.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, outside [%v, %v]", got, before, after)
	}
}

func TestRealClockTimerFires(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(5 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestRealClockTickerTicks(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-ticker.C():
		case <-time.After(2 * time.Second):
			t.Fatalf("missing tick %d", i)
		}
	}
}

func TestMockClockSetAndAdvance(t *testing.T) {
	base := time.Unix(1000, 0)
	clock := NewMockClock(base)

	if !clock.Now().Equal(base) {
		t.Errorf("Now() = %v, want %v", clock.Now(), base)
	}

	clock.Advance(5 * time.Second)
	if !clock.Now().Equal(base.Add(5 * time.Second)) {
		t.Errorf("Now() after Advance = %v", clock.Now())
	}

	jump := time.Unix(9000, 0)
	clock.Set(jump)
	if !clock.Now().Equal(jump) {
		t.Errorf("Now() after Set = %v, want %v", clock.Now(), jump)
	}
}

func TestMockClockRecordsSleeps(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))

	clock.Sleep(25 * time.Millisecond)
	clock.Sleep(50 * time.Millisecond)

	got := clock.Sleeps()
	want := []time.Duration{25 * time.Millisecond, 50 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("Sleeps() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sleeps()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMockTimerFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(10 * time.Second)

	clock.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at its deadline")
	}

	// Single-shot: advancing further never fires again.
	clock.Advance(time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired twice")
	default:
	}
}

func TestMockTimerStop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop on an armed timer should report true")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	clock.Advance(time.Minute)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockTickerFiresEachInterval(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(10 * time.Second)

	clock.Advance(10 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("missing first tick")
	}

	clock.Advance(10 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("missing second tick")
	}

	ticker.Stop()
	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Hour).(*MockTicker)

	now := time.Unix(42, 0)
	ticker.Trigger(now)

	select {
	case got := <-ticker.C():
		if !got.Equal(now) {
			t.Errorf("tick time = %v, want %v", got, now)
		}
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}
