package rangemap

import "testing"

func collect(g *Group, group int) []breakpoint {
	var out []breakpoint
	g.Iterate(group, func(start, length int64, tag Tag) bool {
		out = append(out, breakpoint{offset: start, tag: tag})
		return true
	})
	return out
}

func TestNewSeedsSentinels(t *testing.T) {
	g := New(1, []int64{100}, 1)
	if tag := g.Test(0, 0); tag != Unused {
		t.Errorf("expected Unused at offset 0, got %v", tag)
	}
	if tag := g.Test(0, 100); tag != OutOfRange {
		t.Errorf("expected OutOfRange at the ceiling, got %v", tag)
	}
	if tag := g.Test(0, 99); tag != Unused {
		t.Errorf("expected Unused just below the ceiling, got %v", tag)
	}
}

func TestSetMiddleInterval(t *testing.T) {
	g := New(1, []int64{100}, 1)
	g.Set(0, 10, 20, InUse)

	if tag := g.Test(0, 9); tag != Unused {
		t.Errorf("offset 9 should still be Unused, got %v", tag)
	}
	if tag := g.Test(0, 10); tag != InUse {
		t.Errorf("offset 10 should be InUse, got %v", tag)
	}
	if tag := g.Test(0, 29); tag != InUse {
		t.Errorf("offset 29 should be InUse, got %v", tag)
	}
	if tag := g.Test(0, 30); tag != Unused {
		t.Errorf("offset 30 should be Unused again, got %v", tag)
	}
}

func TestSetMergesAdjacentSameTag(t *testing.T) {
	g := New(1, []int64{100}, 1)
	g.Set(0, 10, 20, InUse)
	g.Set(0, 30, 20, InUse)

	runs := collect(g, 0)
	count := 0
	for _, r := range runs {
		if r.tag == InUse {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("adjacent same-tag intervals should merge into one run, found %d", count)
	}
	if tag := g.Test(0, 49); tag != InUse {
		t.Errorf("offset 49 should be InUse after merge, got %v", tag)
	}
}

func TestSetReplaceInPlaceRestoresPriorState(t *testing.T) {
	g := New(1, []int64{100}, 1)
	g.Set(0, 10, 20, InUse)
	g.Set(0, 10, 20, Unused)

	runs := collect(g, 0)
	if len(runs) != 1 {
		t.Fatalf("expected the map to collapse back to its two sentinels (one run), got %d runs", len(runs))
	}
}

func TestSetSplitsExistingInterval(t *testing.T) {
	g := New(1, []int64{100}, 1)
	g.Set(0, 10, 40, InUse)
	g.Set(0, 20, 10, Unused)

	if tag := g.Test(0, 15); tag != InUse {
		t.Errorf("offset 15 should remain InUse, got %v", tag)
	}
	if tag := g.Test(0, 25); tag != Unused {
		t.Errorf("offset 25 should have been carved out as Unused, got %v", tag)
	}
	if tag := g.Test(0, 35); tag != InUse {
		t.Errorf("offset 35 should remain InUse, got %v", tag)
	}
}

func TestIterateYieldsAscendingRuns(t *testing.T) {
	g := New(1, []int64{100}, 1)
	g.Set(0, 10, 10, InUse)
	g.Set(0, 50, 10, InUse)

	var starts []int64
	g.Iterate(0, func(start, length int64, tag Tag) bool {
		starts = append(starts, start)
		return true
	})

	for i := 1; i < len(starts); i++ {
		if starts[i] <= starts[i-1] {
			t.Fatalf("iterate did not yield strictly ascending starts: %v", starts)
		}
	}
}

func TestMultiplierScalesCeiling(t *testing.T) {
	g := New(1, []int64{10}, 4096)
	if tag := g.Test(0, 10*4096-1); tag != Unused {
		t.Errorf("expected Unused just below the scaled ceiling, got %v", tag)
	}
	if tag := g.Test(0, 10*4096); tag != OutOfRange {
		t.Errorf("expected OutOfRange at the scaled ceiling, got %v", tag)
	}
}
