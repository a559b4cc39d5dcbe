package notification

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(kind Kind, session, msg string) Event {
	return Event{Kind: kind, SessionID: session, Message: msg, Priority: kind.Priority()}
}

func messages(evs []Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Message
	}
	return out
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(ev(KindCompleted, "s1", fmt.Sprintf("msg-%d", i)))
	}

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []string{"msg-2", "msg-3", "msg-4"}, messages(h.All()))
}

func TestHistoryRecent(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 4; i++ {
		h.Add(ev(KindCompleted, "s1", fmt.Sprintf("msg-%d", i)))
	}

	tests := []struct {
		n    int
		want []string
	}{
		{2, []string{"msg-2", "msg-3"}},
		{4, []string{"msg-0", "msg-1", "msg-2", "msg-3"}},
		{50, []string{"msg-0", "msg-1", "msg-2", "msg-3"}},
		{0, []string{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			assert.Equal(t, tt.want, messages(h.Recent(tt.n)))
		})
	}
}

func TestHistoryFilters(t *testing.T) {
	h := NewHistory(10)
	h.Add(ev(KindError, "s1", "a"))
	h.Add(ev(KindCompleted, "s2", "b"))
	h.Add(ev(KindError, "s2", "c"))

	assert.Equal(t, []string{"b", "c"}, messages(h.BySession("s2")))
	assert.Equal(t, []string{"a", "c"}, messages(h.ByKind(KindError)))
	assert.Empty(t, h.BySession("nope"))
	assert.Empty(t, h.ByKind(KindSessionIdle))
}

func TestHistoryClearKeepsCapacity(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(ev(KindError, "s1", fmt.Sprint(i)))
	}
	h.Clear()

	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.All())
	assert.Equal(t, 3, h.Cap())

	for i := 0; i < 4; i++ {
		h.Add(ev(KindError, "s1", fmt.Sprintf("again-%d", i)))
	}
	require.Equal(t, 3, h.Len())
	assert.Equal(t, []string{"again-1", "again-2", "again-3"}, messages(h.All()))
}

func TestHistoryDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultHistorySize, NewHistory(0).Cap())
}
