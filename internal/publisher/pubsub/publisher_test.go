package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, client := newTestClient(t)
	_, err := client.CreateTopic(ctx, "scrapes")
	require.NoError(t, err)

	pub := New(client, "scrapes")
	id, err := pub.Publish(ctx, "", map[string]string{"state": "persisted"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"state":"persisted"}`, string(msgs[0].Data))
	assert.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublishMissingTopic(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub := New(client, "")
	_, err := pub.Publish(context.Background(), "", "payload")
	assert.Error(t, err)
}

func TestPublishUnknownTopicFails(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub := New(client, "")
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "does-not-exist", "payload")
	assert.Error(t, err)
}

func TestPublishUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub := New(client, "scrapes")
	_, err := pub.Publish(context.Background(), "", func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal payload")
}

func TestNilPublisher(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "scrapes", "x")
	assert.Error(t, err)
}
