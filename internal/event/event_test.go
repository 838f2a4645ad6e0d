package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/eplay/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a single subscriber should receive only its event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("attempt.submitted"),
						eventWithName("attempt.completed"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"attempt.submitted"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("attempt.submitted")}, out.received["s1"])
			},
		},

		"a single subscriber should receive every dispatched event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("attempt.completed"),
						eventWithName("attempt.completed"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"attempt.completed"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("attempt.completed"), eventWithName("attempt.completed")}, out.received["s1"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("activity.opened"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"activity.opened"},
						},
						{
							name:        "s2",
							subscribeTo: []string{"activity.opened"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("activity.opened")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("activity.opened")}, out.received["s2"])
			},
		},

		"multiple events should be dispatched to the right subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("activity.opened"),
						eventWithName("attempt.submitted"),
						eventWithName("attempt.completed"),
						eventWithName("attempt.submitted"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"attempt.submitted"},
						},
						{
							name:        "s2",
							subscribeTo: []string{"attempt.submitted", "attempt.completed"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("attempt.submitted"), eventWithName("attempt.submitted")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("attempt.submitted"), eventWithName("attempt.submitted"), eventWithName("attempt.completed")}, out.received["s2"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
