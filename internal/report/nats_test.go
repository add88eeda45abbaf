package report

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockConn struct {
	mock.Mock
}

func (m *MockConn) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := new(MockConn)
	var sent []byte
	conn.On("Publish", "cta.test", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]byte) }).
		Return(nil).Once()

	p := NewNATSPublisher(conn, "cta.test", 2)
	err := p.Publish(&Event{SessionID: "s1", Iteration: 3, Kind: "segment", Status: 200, Renewed: true})
	require.NoError(t, err)
	conn.AssertExpectations(t)

	var got Event
	require.NoError(t, json.Unmarshal(sent, &got))
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 3, got.Iteration)
	assert.True(t, got.Renewed)
}

func TestNATSPublisher_RetriesThenFails(t *testing.T) {
	conn := new(MockConn)
	conn.On("Publish", DefaultSubject, mock.Anything).Return(errors.New("no responders")).Times(2)

	p := NewNATSPublisher(conn, "", 1)
	err := p.Publish(&Event{SessionID: "s1"})
	assert.Error(t, err)
	conn.AssertNumberOfCalls(t, "Publish", 2)
}

func TestNATSPublisher_RecoversOnRetry(t *testing.T) {
	conn := new(MockConn)
	conn.On("Publish", DefaultSubject, mock.Anything).Return(errors.New("slow consumer")).Once()
	conn.On("Publish", DefaultSubject, mock.Anything).Return(nil).Once()

	p := NewNATSPublisher(conn, "", 3)
	assert.NoError(t, p.Publish(&Event{}))
	conn.AssertNumberOfCalls(t, "Publish", 2)
}

func TestNATSPublisher_NoRetriesPublishesOnce(t *testing.T) {
	conn := new(MockConn)
	conn.On("Publish", DefaultSubject, mock.Anything).Return(errors.New("no responders"))

	p := NewNATSPublisher(conn, "", 0)
	start := time.Now()
	assert.Error(t, p.Publish(&Event{}))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	conn.AssertNumberOfCalls(t, "Publish", 1)
}
