package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "results")
	require.NoError(t, err)
	return srv, client, topic
}

func TestMirrorPublishesRecord(t *testing.T) {
	t.Parallel()

	srv, _, topic := newTestTopic(t)
	pub := New(topic, "run-42")
	t.Cleanup(func() { _ = pub.Close() })

	rec := pipeline.Record{
		URL:     "https://example.com/?a=1&b=<2>",
		Content: pipeline.Content{Type: pipeline.KindHTML, Content: pipeline.HTMLContent{Title: "A & B"}},
	}
	require.NoError(t, pub.Mirror(context.Background(), rec))
	require.Equal(t, "pubsub", pub.Name())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t,
		`{"url":"https://example.com/?a=1&b=<2>","content":{"type":"html","content":{"title":"A & B"}}}`,
		string(msgs[0].Data))
	require.NotContains(t, string(msgs[0].Data), `\u0026`)
	require.Equal(t, rec.URL, msgs[0].Attributes[AttrURL])
	require.Equal(t, "html", msgs[0].Attributes[AttrType])
	require.Equal(t, "run-42", msgs[0].Attributes[AttrRunID])
}

func TestMirrorJSONPayload(t *testing.T) {
	t.Parallel()

	srv, _, topic := newTestTopic(t)
	pub := New(topic, "")
	t.Cleanup(func() { _ = pub.Close() })

	rec := pipeline.Record{
		URL:     "https://api.example.com",
		Content: pipeline.Content{Type: pipeline.KindJSON, Content: []any{json.Number("1"), "x", nil}},
	}
	require.NoError(t, pub.Mirror(context.Background(), rec))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"url":"https://api.example.com","content":{"type":"json","content":[1,"x",null]}}`, string(msgs[0].Data))
	require.NotContains(t, msgs[0].Attributes, AttrRunID)
}

func TestMirrorUnknownTopicFails(t *testing.T) {
	t.Parallel()

	_, client, _ := newTestTopic(t)
	pub := New(client.Topic("missing"), "")
	t.Cleanup(func() { _ = pub.Close() })

	err := pub.Mirror(context.Background(), pipeline.Record{URL: "https://a", Content: pipeline.Content{Type: pipeline.KindJSON}})
	require.ErrorContains(t, err, "publish message")
}

func TestMirrorWithoutTopic(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	require.Error(t, pub.Mirror(context.Background(), pipeline.Record{}))
	require.NoError(t, pub.Close())
}

func TestOpenValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "topic", "")
	require.Error(t, err)
	_, err = Open(context.Background(), "proj", "", "")
	require.Error(t, err)
}

func TestOpenUsesClientOptions(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestTopic(t)
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	pub, err := Open(context.Background(), "test-project", "results", "run-1", option.WithGRPCConn(conn))
	require.NoError(t, err)

	require.NoError(t, pub.Mirror(context.Background(), pipeline.Record{
		URL:     "https://a",
		Content: pipeline.Content{Type: pipeline.KindHTML, Content: pipeline.HTMLContent{Title: pipeline.NoTitle}},
	}))
	require.NoError(t, pub.Close())
	require.Len(t, srv.Messages(), 1)
}
