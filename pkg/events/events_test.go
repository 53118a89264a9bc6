package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	topics   []string
	payloads []any
}

func (r *recordingSink) Publish(topic string, payload any) {
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
}

func TestFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, b}

	f.Publish("perp.open", map[string]string{"trader": "alice"})
	f.Publish("perp.liquidate", map[string]string{"trader": "bob"})

	assert.Equal(t, []string{"perp.open", "perp.liquidate"}, a.topics)
	assert.Equal(t, []string{"perp.open", "perp.liquidate"}, b.topics)
	assert.Equal(t, a.payloads, b.payloads)
}

func TestFanoutEmpty(t *testing.T) {
	assert.NotPanics(t, func() {
		Fanout{}.Publish("perp.open", nil)
	})
}
