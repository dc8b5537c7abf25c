package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutbox_Drain_Preserves_Enqueue_Order(t *testing.T) {
	req := require.New(t)
	o := NewOutbox()

	// Given frames pushed one after the other
	for i := 0; i < 5; i++ {
		req.True(o.Push(TextMessage([]byte(fmt.Sprint(i)))))
	}
	req.Equal(5, o.Len())

	// When the consumer drains
	frames, open := o.Drain()

	// Then they come out in order and the queue is empty
	req.True(open)
	req.Len(frames, 5)
	for i, f := range frames {
		req.Equal(TextFrame, f.Type)
		req.Equal(fmt.Sprint(i), string(f.Data))
	}
	req.Zero(o.Len())
}

func TestOutbox_Push_Signals_Ready(t *testing.T) {
	req := require.New(t)
	o := NewOutbox()

	o.Push(TextMessage([]byte("a")))
	o.Push(TextMessage([]byte("b")))

	// Then a single wake-up is pending
	select {
	case <-o.Ready():
	default:
		req.Fail("expected a pending wake-up")
	}
	select {
	case <-o.Ready():
		req.Fail("wake-ups must coalesce")
	default:
	}
}

func TestOutbox_Closed_Drops_New_Frames_But_Keeps_Queued(t *testing.T) {
	req := require.New(t)
	o := NewOutbox()

	// Given a queued frame
	req.True(o.Push(TextMessage([]byte("farewell"))))

	// When the outbox is closed twice
	o.Close()
	o.Close()

	// Then new frames are rejected
	req.False(o.Push(TextMessage([]byte("late"))))

	// And the queued frame can still be drained
	frames, open := o.Drain()
	req.True(open)
	req.Len(frames, 1)
	req.Equal("farewell", string(frames[0].Data))

	// And then the outbox reports closed
	frames, open = o.Drain()
	req.False(open)
	req.Empty(frames)
}

func TestOutbox_Concurrent_Producers(t *testing.T) {
	req := require.New(t)
	o := NewOutbox()

	const producers, perProducer = 8, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				o.Push(TextMessage([]byte(fmt.Sprintf("%d:%d", p, i))))
			}
		}(p)
	}
	wg.Wait()

	frames, _ := o.Drain()
	req.Len(frames, producers*perProducer)

	// Then each producer's frames keep their relative order
	last := make(map[string]int)
	for _, f := range frames {
		var p, i int
		_, err := fmt.Sscanf(string(f.Data), "%d:%d", &p, &i)
		req.NoError(err)
		key := fmt.Sprint(p)
		if prev, ok := last[key]; ok {
			req.Greater(i, prev)
		}
		last[key] = i
	}
}
