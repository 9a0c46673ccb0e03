package capture

import "testing"

func TestOutbox_DropsOldest(t *testing.T) {
	t.Parallel()

	o := NewOutbox(2)
	for i, chunk := range []string{"a", "b", "c", "d"} {
		evicted := o.Push(chunk)
		if want := i >= 2; evicted != want {
			t.Errorf("Push(%q) evicted = %v, want %v", chunk, evicted, want)
		}
	}
	if got := o.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	for _, want := range []string{"c", "d"} {
		if got := <-o.C(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestOutbox_MinimumDepth(t *testing.T) {
	t.Parallel()

	o := NewOutbox(0)
	o.Push("a")
	o.Push("b")
	if got := <-o.C(); got != "b" {
		t.Errorf("got %q, want newest chunk", got)
	}
}
