package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/subdispatch/internal/ir"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	go func() {
		r.Record(ir.ResultEvent{Hash: "h"}, "a")
		r.Record(ir.ResultEvent{Hash: "h"}, "b")
	}()

	assert.True(t, r.WaitFor(2, time.Second))
	assert.Equal(t, []ir.Subscriber{"a", "b"}, r.Subscribers())
	assert.Equal(t, "h", r.Deliveries()[0].Event.Hash)
	assert.False(t, r.WaitFor(3, 10*time.Millisecond))
}

func TestUserSchemas(t *testing.T) {
	assert.NotNil(t, UserSchema().SubscriptionType())
	assert.Nil(t, NoSubscriptionSchema().SubscriptionType())
}
