package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/chat"
	"github.com/nageoffer/ragent/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestController_Submit(t *testing.T) {
	t.Parallel()

	t.Run("deep thinking reply completes", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		tr := streamOf(scripted(
			ragent.EventMeta{ConversationID: "c1", TaskID: "t1"},
			ragent.EventThinkingDelta{Delta: "analyzing"},
			ragent.EventThinkingDelta{Delta: " data"},
			ragent.EventAnswerDelta{Delta: "The answer is "},
			ragent.EventAnswerDelta{Delta: "42"},
			ragent.EventComplete{MessageID: "srv-1", Title: "Meaning"},
		))
		c := chat.NewController(tr, store)

		reply, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "why?", DeepThinking: true})
		require.NoError(t, err)
		assert.Equal(t, chat.Reply{
			ConversationID: "c1",
			TaskID:         "t1",
			MessageID:      "srv-1",
			Status:         ragent.StatusDone,
		}, reply)

		sess, ok := store.Session("c1")
		require.True(t, ok)
		assert.Equal(t, "Meaning", sess.Title)
		require.Len(t, sess.Messages, 2)
		assert.Equal(t, ragent.RoleUser, sess.Messages[0].Role)
		assert.Equal(t, "why?", sess.Messages[0].Content)

		msg := sess.Messages[1]
		assert.Equal(t, "srv-1", msg.ID)
		assert.Equal(t, "analyzing data", msg.Thinking)
		assert.Equal(t, "The answer is 42", msg.Content)
		assert.True(t, msg.IsDeepThinking)
		assert.False(t, msg.IsThinking)
		assert.Positive(t, msg.ThinkingDuration)
		assert.False(t, c.Active("c1"))
	})

	t.Run("delivers applied events to handler in order", func(t *testing.T) {
		t.Parallel()
		events := []ragent.Event{
			ragent.EventMeta{ConversationID: "c1", TaskID: "t1"},
			ragent.EventAnswerDelta{Delta: "a"},
			ragent.EventThinkingDelta{Delta: "x"},
			ragent.EventAnswerDelta{Delta: "b"},
			ragent.EventComplete{},
		}
		c := chat.NewController(streamOf(scripted(events...)), newStore())

		var got []ragent.Event
		_, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "q"},
			chat.WithEventHandler(func(e ragent.Event) { got = append(got, e) }))
		require.NoError(t, err)
		assert.Equal(t, events, got)
	})

	t.Run("keeps local id when completion id is taken", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		tr := streamOf(scripted(
			ragent.EventMeta{ConversationID: "c1", TaskID: "t1"},
			ragent.EventAnswerDelta{Delta: "hi"},
			ragent.EventComplete{MessageID: "m1"},
		))
		reply, err := chat.NewController(tr, store).Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		require.NoError(t, err)
		assert.Equal(t, "m2", reply.MessageID)
		assert.Equal(t, ragent.StatusDone, reply.Status)

		msg, ok := store.Message("m2")
		require.True(t, ok)
		assert.Equal(t, ragent.RoleAssistant, msg.Role)
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, ragent.StatusDone, msg.Status)

		user, ok := store.Message("m1")
		require.True(t, ok)
		assert.Equal(t, ragent.RoleUser, user.Role)
		assert.Equal(t, "q", user.Content)
	})

	t.Run("rejects blank question without opening a stream", func(t *testing.T) {
		t.Parallel()
		c := chat.NewController(&mock.Transport{}, newStore())
		_, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "  "})
		assert.ErrorIs(t, err, ragent.ErrValidation)
	})

	t.Run("rejects prompt while conversation is streaming", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		require.NoError(t, store.Tasks().Register("c1", "t0"))
		c := chat.NewController(&mock.Transport{}, store)

		_, err := c.Submit(context.Background(), ragent.ChatRequest{ConversationID: "c1", Question: "q"})
		assert.ErrorIs(t, err, ragent.ErrConcurrentStreamRejected)
		assert.Equal(t, "reply already in progress, please wait", ragent.ErrConcurrentStreamRejected.Error())
	})

	t.Run("rejects meta for a busy conversation without creating messages", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		require.NoError(t, store.Tasks().Register("c1", "t0"))
		tr := streamOf(scripted(ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}))

		_, err := chat.NewController(tr, store).Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		assert.ErrorIs(t, err, ragent.ErrConcurrentStreamRejected)
		_, ok := store.Session("c1")
		assert.False(t, ok)
		task, ok := store.Tasks().Current("c1")
		require.True(t, ok)
		assert.Equal(t, "t0", task.ID)
	})

	t.Run("fails reply when channel closes before completion", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		tr := streamOf(scripted(
			ragent.EventMeta{ConversationID: "c1", TaskID: "t1"},
			ragent.EventAnswerDelta{Delta: "partial"},
		))
		c := chat.NewController(tr, store)

		reply, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		require.ErrorIs(t, err, ragent.ErrChannelTerminated)
		assert.Equal(t, ragent.StatusError, reply.Status)
		msg, ok := store.Message(reply.MessageID)
		require.True(t, ok)
		assert.Equal(t, "partial", msg.Content)
		assert.NotEmpty(t, msg.Error)
		assert.False(t, c.Active("c1"))
	})

	t.Run("wraps transport errors mid-stream", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		tr := streamOf(scriptedErr(boom, ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}))

		reply, err := chat.NewController(tr, newStore()).Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		assert.ErrorIs(t, err, ragent.ErrChannelTerminated)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, ragent.StatusError, reply.Status)
	})

	t.Run("fails when first event is not meta", func(t *testing.T) {
		t.Parallel()
		tr := streamOf(scripted(ragent.EventAnswerDelta{Delta: "hi"}))
		_, err := chat.NewController(tr, newStore()).Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		assert.ErrorIs(t, err, ragent.ErrChannelTerminated)
	})

	t.Run("fails when channel closes before meta", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		_, err := chat.NewController(streamOf(scripted()), store).Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		assert.ErrorIs(t, err, ragent.ErrChannelTerminated)
		assert.Empty(t, store.Sessions())
	})

	t.Run("returns open errors", func(t *testing.T) {
		t.Parallel()
		tr := &mock.Transport{
			StreamFn: func(context.Context, ragent.ChatRequest) (ragent.Stream, error) {
				return nil, ragent.ErrUnauthorized
			},
		}
		_, err := chat.NewController(tr, newStore()).Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		assert.ErrorIs(t, err, ragent.ErrUnauthorized)
	})

	t.Run("allows a new prompt after completion", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		streams := []ragent.Stream{
			scripted(ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}, ragent.EventComplete{}),
			scripted(ragent.EventMeta{ConversationID: "c1", TaskID: "t2"}, ragent.EventAnswerDelta{Delta: "again"}, ragent.EventComplete{}),
		}
		var n int
		tr := &mock.Transport{StreamFn: func(context.Context, ragent.ChatRequest) (ragent.Stream, error) {
			s := streams[n]
			n++
			return s, nil
		}}
		c := chat.NewController(tr, store)

		_, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "one"})
		require.NoError(t, err)
		reply, err := c.Submit(context.Background(), ragent.ChatRequest{ConversationID: "c1", Question: "two"})
		require.NoError(t, err)
		assert.Equal(t, ragent.StatusDone, reply.Status)

		sess, _ := store.Session("c1")
		assert.Len(t, sess.Messages, 4)
	})

	t.Run("fails stalled stream after idle timeout", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		events := make(chan ragent.Event, 1)
		events <- ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}
		tr := &mock.Transport{StreamFn: func(ctx context.Context, _ ragent.ChatRequest) (ragent.Stream, error) {
			return fed(ctx, events), nil
		}}
		c := chat.NewController(tr, store, chat.WithIdleTimeout(20*time.Millisecond))

		reply, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		require.ErrorIs(t, err, ragent.ErrStreamStalled)
		assert.Equal(t, ragent.StatusError, reply.Status)
		assert.False(t, c.Active("c1"))
	})

	t.Run("fails stalled stream before meta", func(t *testing.T) {
		t.Parallel()
		tr := &mock.Transport{StreamFn: func(ctx context.Context, _ ragent.ChatRequest) (ragent.Stream, error) {
			return fed(ctx, make(chan ragent.Event)), nil
		}}
		c := chat.NewController(tr, newStore(), chat.WithIdleTimeout(20*time.Millisecond))
		_, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "q"})
		assert.ErrorIs(t, err, ragent.ErrStreamStalled)
	})
}

func TestController_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("freezes reply and discards late deltas", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		events := make(chan ragent.Event)
		stopped := make(chan string, 1)
		tr := &mock.Transport{
			// The stream ignores cancellation so the late delta is delivered.
			StreamFn: func(context.Context, ragent.ChatRequest) (ragent.Stream, error) {
				return fed(nil, events), nil
			},
			StopTaskFn: func(_ context.Context, taskID string) error {
				stopped <- taskID
				return nil
			},
		}
		c := chat.NewController(tr, store)

		seen := make(chan ragent.Event, 8)
		type result struct {
			reply chat.Reply
			err   error
		}
		done := make(chan result, 1)
		go func() {
			r, err := c.Submit(context.Background(), ragent.ChatRequest{Question: "q", DeepThinking: true},
				chat.WithEventHandler(func(e ragent.Event) { seen <- e }))
			done <- result{r, err}
		}()

		events <- ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}
		events <- ragent.EventThinkingDelta{Delta: "hmm"}
		waitFor(t, seen, 2)

		require.NoError(t, c.Cancel("c1"))
		assert.False(t, c.Active("c1"))
		events <- ragent.EventAnswerDelta{Delta: "late"}

		res := <-done
		require.NoError(t, res.err)
		assert.Equal(t, ragent.StatusCancelled, res.reply.Status)

		msg, ok := store.Message(res.reply.MessageID)
		require.True(t, ok)
		assert.Equal(t, "hmm", msg.Thinking)
		assert.Empty(t, msg.Content)
		assert.False(t, msg.IsThinking)
		assert.Zero(t, msg.ThinkingDuration)

		c.Wait()
		assert.Equal(t, "t1", <-stopped)
	})

	t.Run("logs failed stop request", func(t *testing.T) {
		t.Parallel()
		core, logs := observer.New(zap.WarnLevel)
		store := newStore()
		tr := &mock.Transport{
			StreamFn: func(ctx context.Context, _ ragent.ChatRequest) (ragent.Stream, error) {
				ch := make(chan ragent.Event, 1)
				ch <- ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}
				return fed(ctx, ch), nil
			},
			StopTaskFn: func(context.Context, string) error { return errors.New("offline") },
		}
		c := chat.NewController(tr, store, chat.WithLogger(zap.New(core)))

		seen := make(chan ragent.Event, 1)
		done := make(chan chat.Reply, 1)
		go func() {
			r, _ := c.Submit(context.Background(), ragent.ChatRequest{Question: "q"},
				chat.WithEventHandler(func(e ragent.Event) { seen <- e }))
			done <- r
		}()
		waitFor(t, seen, 1)

		require.NoError(t, c.Cancel("c1"))
		assert.Equal(t, ragent.StatusCancelled, (<-done).Status)
		c.Wait()

		entries := logs.FilterMessage("stop request failed").All()
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].ContextMap()["error"], ragent.ErrCancellationRequestFailed.Error())
	})

	t.Run("cancelling caller context cancels reply", func(t *testing.T) {
		t.Parallel()
		store := newStore()
		var mu sync.Mutex
		var stopped []string
		tr := &mock.Transport{
			StreamFn: func(ctx context.Context, _ ragent.ChatRequest) (ragent.Stream, error) {
				ch := make(chan ragent.Event, 2)
				ch <- ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}
				ch <- ragent.EventAnswerDelta{Delta: "par"}
				return fed(ctx, ch), nil
			},
			StopTaskFn: func(_ context.Context, taskID string) error {
				mu.Lock()
				defer mu.Unlock()
				stopped = append(stopped, taskID)
				return nil
			},
		}
		c := chat.NewController(tr, store)

		ctx, cancel := context.WithCancel(context.Background())
		seen := make(chan ragent.Event, 2)
		done := make(chan chat.Reply, 1)
		errc := make(chan error, 1)
		go func() {
			r, err := c.Submit(ctx, ragent.ChatRequest{Question: "q"},
				chat.WithEventHandler(func(e ragent.Event) { seen <- e }))
			done <- r
			errc <- err
		}()
		waitFor(t, seen, 2)
		cancel()

		reply := <-done
		require.NoError(t, <-errc)
		assert.Equal(t, ragent.StatusCancelled, reply.Status)
		msg, _ := store.Message(reply.MessageID)
		assert.Equal(t, "par", msg.Content)

		c.Wait()
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"t1"}, stopped)
	})

	t.Run("late end of a cancelled stream leaves the next reply alone", func(t *testing.T) {
		t.Parallel()
		store := newStore()

		// The first stream ignores cancellation and ends only when released.
		release := make(chan struct{})
		firstEvents := make(chan ragent.Event, 1)
		firstEvents <- ragent.EventMeta{ConversationID: "c1", TaskID: "t1"}
		first := &mock.Stream{NextFn: func() (ragent.Event, error) {
			select {
			case e := <-firstEvents:
				return e, nil
			default:
			}
			<-release
			return nil, context.Canceled
		}}
		secondEvents := make(chan ragent.Event, 2)
		second := fed(nil, secondEvents)

		var mu sync.Mutex
		var opened int
		var stopped []string
		tr := &mock.Transport{
			StreamFn: func(context.Context, ragent.ChatRequest) (ragent.Stream, error) {
				mu.Lock()
				defer mu.Unlock()
				opened++
				if opened == 1 {
					return first, nil
				}
				return second, nil
			},
			StopTaskFn: func(_ context.Context, taskID string) error {
				mu.Lock()
				defer mu.Unlock()
				stopped = append(stopped, taskID)
				return nil
			},
		}
		c := chat.NewController(tr, store)

		type result struct {
			reply chat.Reply
			err   error
		}
		submit := func(req ragent.ChatRequest, seen chan<- ragent.Event) <-chan result {
			done := make(chan result, 1)
			go func() {
				r, err := c.Submit(context.Background(), req,
					chat.WithEventHandler(func(e ragent.Event) { seen <- e }))
				done <- result{r, err}
			}()
			return done
		}

		seen1 := make(chan ragent.Event, 4)
		done1 := submit(ragent.ChatRequest{Question: "one"}, seen1)
		waitFor(t, seen1, 1)
		require.NoError(t, c.Cancel("c1"))

		seen2 := make(chan ragent.Event, 4)
		done2 := submit(ragent.ChatRequest{ConversationID: "c1", Question: "two"}, seen2)
		secondEvents <- ragent.EventMeta{ConversationID: "c1", TaskID: "t2"}
		waitFor(t, seen2, 1)

		close(release)
		res1 := <-done1
		require.NoError(t, res1.err)
		assert.Equal(t, ragent.StatusCancelled, res1.reply.Status)
		assert.True(t, c.Active("c1"), "second reply must still be streaming")

		secondEvents <- ragent.EventAnswerDelta{Delta: "x"}
		secondEvents <- ragent.EventComplete{}
		res2 := <-done2
		require.NoError(t, res2.err)
		assert.Equal(t, ragent.StatusDone, res2.reply.Status)
		msg, ok := store.Message(res2.reply.MessageID)
		require.True(t, ok)
		assert.Equal(t, "x", msg.Content)

		c.Wait()
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"t1"}, stopped)
	})

	t.Run("is a no-op without an active reply", func(t *testing.T) {
		t.Parallel()
		tr := &mock.Transport{StopTaskFn: func(context.Context, string) error {
			t.Error("unexpected stop request")
			return nil
		}}
		c := chat.NewController(tr, newStore())
		assert.NoError(t, c.Cancel("c1"))
		c.Wait()
	})
}
