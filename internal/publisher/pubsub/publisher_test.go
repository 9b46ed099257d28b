package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

func TestPublisher_PublishNewsCreated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	_, err = srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test-project/topics/news"})
	require.NoError(t, err)

	pub := New(client, nil)
	defer pub.Close()

	id, err := pub.Publish(ctx, "news", crawler.NewsCreated{NewsID: "n-1", Title: "Bitcoin Surges", Tickers: []string{"BTCUSDT"}, Source: "coindesk"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "coindesk", msgs[0].Attributes["source"])

	var got crawler.NewsCreated
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "n-1", got.NewsID)
	require.Equal(t, []string{"BTCUSDT"}, got.Tickers)
}

func TestPublisher_RequiresClientAndTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Publish(context.Background(), "news", "x")
	require.Error(t, err)

	_, err = (&Publisher{client: &pubsub.Client{}}).Publish(context.Background(), "", "x")
	require.EqualError(t, err, "pubsub topic is required")
}
