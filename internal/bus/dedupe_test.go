package bus

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupeCacheBasic(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)

	if c.IsDuplicate("k1") {
		t.Error("first sighting reported as duplicate")
	}
	if !c.IsDuplicate("k1") {
		t.Error("second sighting not reported as duplicate")
	}
	if c.IsDuplicate("k2") {
		t.Error("unrelated key reported as duplicate")
	}
}

func TestDedupeCacheExpiry(t *testing.T) {
	c := NewDedupeCache(30*time.Millisecond, 100)

	c.IsDuplicate("k1")
	time.Sleep(60 * time.Millisecond)
	if c.IsDuplicate("k1") {
		t.Error("expired key still reported as duplicate")
	}
}

func TestDedupeCacheCapacity(t *testing.T) {
	c := NewDedupeCache(time.Hour, 10)

	for i := 0; i < 50; i++ {
		c.IsDuplicate(fmt.Sprintf("k%d", i))
	}
	if c.Len() > 10 {
		t.Errorf("cache grew past capacity: %d entries", c.Len())
	}
}
