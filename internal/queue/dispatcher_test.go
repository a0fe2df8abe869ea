package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/lora-alerts/internal/alerting"
	"github.com/smukkama/lora-alerts/internal/protocol"
)

type published struct {
	key   string
	value []byte
}

type fakePublisher struct {
	msgs        []published
	err         error
	hadDeadline bool
}

func (p *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	_, p.hadDeadline = ctx.Deadline()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{key, value})
	return nil
}

func TestNotifyPublishesByEUI(t *testing.T) {
	pub := &fakePublisher{}
	d := NewAlertDispatcher(pub, time.Second, zerolog.Nop())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	d.Notify(context.Background(), "rooftop", "gw1", alerting.IssueLocationChanged, "moved", alerting.SeverityCritical, true)

	require.Len(t, pub.msgs, 1)
	assert.True(t, pub.hadDeadline)
	assert.Equal(t, "gw1", pub.msgs[0].key)

	n, err := protocol.DecodeAlertNotification(pub.msgs[0].value)
	require.NoError(t, err)
	assert.Equal(t, "rooftop", n.Name)
	assert.Equal(t, "Gateway Location Changed", n.Issue)
	assert.Equal(t, "critical", n.Severity)
	assert.True(t, n.IsGateway)
	assert.Equal(t, fixed, n.RaisedAt)
}

func TestNotifySwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewAlertDispatcher(pub, time.Second, zerolog.Nop())

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), "s", "dev1", alerting.IssueOffline, "m", alerting.SeverityHigh, false)
	})
	assert.Empty(t, pub.msgs)
}
