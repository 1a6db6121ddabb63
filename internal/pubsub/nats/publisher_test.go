package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/appview/internal/pubsub"
)

func testConfig() pubsub.Config {
	return pubsub.Config{URL: "nats://localhost:4222", StreamName: "APPVIEW", SubjectPrefix: "APPVIEW"}
}

func TestNewPublisher_EnsuresStream(t *testing.T) {
	mockJS := new(MockJetStream)
	mockJS.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "APPVIEW" && len(cfg.Subjects) == 1 && cfg.Subjects[0] == "APPVIEW.>"
	})).Return(nil, nil)

	pub, err := NewPublisher(context.Background(), mockJS, testConfig())
	require.NoError(t, err)
	assert.NotNil(t, pub)
	mockJS.AssertExpectations(t)
}

func TestNewPublisher_Errors(t *testing.T) {
	_, err := NewPublisher(context.Background(), nil, testConfig())
	assert.Error(t, err)

	mockJS := new(MockJetStream)
	mockJS.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("stream error"))
	_, err = NewPublisher(context.Background(), mockJS, testConfig())
	assert.ErrorContains(t, err, "stream error")
}

func TestPublisher_Publish(t *testing.T) {
	mockJS := new(MockJetStream)
	mockJS.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, nil)
	mockJS.On("Publish", mock.Anything, "APPVIEW.repo.indexed", mock.Anything).Return(&jetstream.PubAck{}, nil)

	pub, err := NewPublisher(context.Background(), mockJS, testConfig())
	require.NoError(t, err)

	err = pubsub.PublishRepoIndexed(context.Background(), pub, pubsub.RepoIndexed{DID: "did:example:abc", Commit: "bafy123"})
	require.NoError(t, err)
	mockJS.AssertExpectations(t)

	data := mockJS.Calls[1].Arguments.Get(2).([]byte)
	assert.Contains(t, string(data), `"did":"did:example:abc"`)
	assert.NoError(t, pub.Close())
}

func TestPublisher_PublishError(t *testing.T) {
	mockJS := new(MockJetStream)
	mockJS.On("Publish", mock.Anything, "repo.indexed", mock.Anything).Return(nil, errors.New("no responders"))

	cfg := testConfig()
	cfg.StreamName = ""
	cfg.SubjectPrefix = ""
	pub, err := NewPublisher(context.Background(), mockJS, cfg)
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "repo.indexed", []byte("{}"))
	assert.ErrorContains(t, err, "no responders")
}

func TestProvider_Connect(t *testing.T) {
	conn := &mockConn{}
	mockJS := new(MockJetStream)
	mockJS.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, nil)

	p := NewProvider("nats://localhost:4222")
	p.natsConnect = func(url string) (natsConnection, error) { return conn, nil }
	p.jetStreamFactory = func(nc natsConnection) (JetStream, error) { return mockJS, nil }

	_, err := p.NewPublisher(context.Background(), testConfig())
	assert.Error(t, err, "publisher before connect")

	require.NoError(t, p.Connect(context.Background()))
	pub, err := p.NewPublisher(context.Background(), testConfig())
	require.NoError(t, err)
	assert.NotNil(t, pub)

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}

func TestProvider_ConnectFailures(t *testing.T) {
	p := NewProvider("nats://localhost:4222")
	p.natsConnect = func(url string) (natsConnection, error) { return nil, errors.New("refused") }
	assert.ErrorContains(t, p.Connect(context.Background()), "refused")

	conn := &mockConn{}
	p.natsConnect = func(url string) (natsConnection, error) { return conn, nil }
	p.jetStreamFactory = func(nc natsConnection) (JetStream, error) { return nil, errors.New("no jetstream") }
	assert.ErrorContains(t, p.Connect(context.Background()), "no jetstream")
	assert.True(t, conn.closed)
}
