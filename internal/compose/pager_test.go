package compose

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
)

func openTestPager(t *testing.T, r *PagerRegistry, a *fakeAdapter, kind string, n int) (setID string) {
	t.Helper()
	items := make([]PagerItem, n)
	for i := range items {
		items[i] = PagerItem{Title: string(rune('A' + i)), Body: "body"}
	}
	if _, err := r.Open(context.Background(), a, "c1", kind, items); err != nil {
		t.Fatal(err)
	}
	// Recover the generated set id from the rendered keyboard.
	last := a.sends[len(a.sends)-1]
	data := last.keyboard[0][0].Data // "pager:<setID>:prev"
	parts := strings.Split(data, ":")
	return parts[1]
}

func TestPagerCircularNavigation(t *testing.T) {
	r := NewPagerRegistry(WithTapCooldown(time.Nanosecond))
	a := &fakeAdapter{}
	setID := openTestPager(t, r, a, KindCitations, 3)
	ctx := context.Background()

	// Page 0, "prev" wraps to page 2.
	if _, err := r.HandleAction(ctx, "c1", PagerPrefix+setID+":prev"); err != nil {
		t.Fatal(err)
	}
	if len(a.edits) != 1 || !strings.Contains(a.edits[0].text, "3/3") {
		t.Fatalf("prev from page 0 should wrap to last page: %+v", a.edits)
	}

	// "next" wraps back to page 0.
	time.Sleep(time.Millisecond)
	if _, err := r.HandleAction(ctx, "c1", PagerPrefix+setID+":next"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(a.edits[1].text, "1/3") {
		t.Errorf("next from last page should wrap to first: %q", a.edits[1].text)
	}
}

func TestPagerCooldownRejectsDoubleTap(t *testing.T) {
	r := NewPagerRegistry(WithTapCooldown(time.Hour))
	a := &fakeAdapter{}
	setID := openTestPager(t, r, a, KindCitations, 3)
	ctx := context.Background()

	if _, err := r.HandleAction(ctx, "c1", PagerPrefix+setID+":next"); err != nil {
		t.Fatal(err)
	}
	res, err := r.HandleAction(ctx, "c1", PagerPrefix+setID+":next")
	if err != nil {
		t.Fatal(err)
	}
	if res.Notice != cooldownNotice {
		t.Errorf("notice = %q, want cooldown notice", res.Notice)
	}
	if len(a.edits) != 1 {
		t.Errorf("double-tap mutated the session: %d edits", len(a.edits))
	}
}

func TestPagerExpiry(t *testing.T) {
	r := NewPagerRegistry(WithPagerTTL(time.Nanosecond), WithTapCooldown(time.Nanosecond))
	a := &fakeAdapter{}
	setID := openTestPager(t, r, a, KindCitations, 2)
	time.Sleep(time.Millisecond)

	res, err := r.HandleAction(context.Background(), "c1", PagerPrefix+setID+":next")
	if err != nil {
		t.Fatal(err)
	}
	if res.Notice != expiredNotice {
		t.Errorf("notice = %q, want expiry notice", res.Notice)
	}
	if r.Len() != 0 {
		t.Error("expired session not purged")
	}
	if len(a.edits) != 0 {
		t.Error("expired session was mutated")
	}
	if len(a.deleted) != 1 {
		t.Errorf("rendered message not deleted: %v", a.deleted)
	}

	// Further interactions on the purged id keep answering with the notice.
	res, _ = r.HandleAction(context.Background(), "c1", PagerPrefix+setID+":next")
	if res.Notice != expiredNotice {
		t.Errorf("post-purge notice = %q", res.Notice)
	}
}

func TestPagerSelectQuestion(t *testing.T) {
	r := NewPagerRegistry(WithTapCooldown(time.Nanosecond))
	a := &fakeAdapter{}
	setID := openTestPager(t, r, a, KindQuestions, 2)

	res, err := r.HandleAction(context.Background(), "c1", PagerPrefix+setID+":select")
	if err != nil {
		t.Fatal(err)
	}
	if res.SelectedInput != "A" {
		t.Errorf("SelectedInput = %q, want A", res.SelectedInput)
	}
}

func TestPagerClose(t *testing.T) {
	r := NewPagerRegistry(WithTapCooldown(time.Nanosecond))
	a := &fakeAdapter{}
	setID := openTestPager(t, r, a, KindCitations, 2)

	res, err := r.HandleAction(context.Background(), "c1", PagerPrefix+setID+":close")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Closed {
		t.Error("close did not report closed")
	}
	if r.Len() != 0 {
		t.Error("closed session not removed")
	}
	if len(a.deleted) != 1 {
		t.Error("rendered message not deleted on close")
	}
}

func TestPagerPurgeExpired(t *testing.T) {
	r := NewPagerRegistry(WithPagerTTL(time.Nanosecond))
	a := &fakeAdapter{}
	openTestPager(t, r, a, KindCitations, 2)
	openTestPager(t, r, a, KindQuestions, 2)
	time.Sleep(time.Millisecond)

	if n := r.PurgeExpired(context.Background()); n != 2 {
		t.Errorf("purged %d sessions, want 2", n)
	}
	if r.Len() != 0 {
		t.Error("sessions remain after purge")
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	r := NewPagerRegistry(WithSweepSchedule("not a cron"))
	if err := r.StartSweeper(context.Background()); err == nil {
		t.Error("invalid schedule accepted")
	}

	r = NewPagerRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.StartSweeper(ctx); err != nil {
		t.Errorf("default schedule rejected: %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  int
	}{
		{"empty", "", 10, 0},
		{"fits", "short", 10, 1},
		{"paragraphs", "aaaa\n\nbbbb\n\ncccc", 9, 2},
		{"words", strings.Repeat("word ", 10), 12, 5},
		{"unbroken run", strings.Repeat("x", 25), 10, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitMessage(tc.text, tc.limit)
			if len(got) != tc.want {
				t.Fatalf("chunks = %d (%q), want %d", len(got), got, tc.want)
			}
			for _, chunk := range got {
				if runewidth.StringWidth(chunk) > tc.limit {
					t.Errorf("chunk %q exceeds limit %d", chunk, tc.limit)
				}
			}
		})
	}
}
