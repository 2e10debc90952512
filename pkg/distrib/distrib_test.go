package distrib

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arclight-labs/spifmark/pkg/equivalency"
)

// Integration tests require a running Redis; they skip if the connection
// fails.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedExport(t *testing.T) *equivalency.Export {
	t.Helper()
	table, err := equivalency.LoadSeed()
	if err != nil {
		t.Fatalf("LoadSeed failed: %v", err)
	}
	m, _, err := equivalency.Build(table, equivalency.DefaultCanonicalMap(), equivalency.EnglishCountries())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m.Export(table.Name, table.Version)
}

func TestPublisher_Integration(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	export := seedExport(t)
	wantDoc, wantHash, err := export.Canonical()
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}

	pub := NewPublisherWithClient(client, quietLogger())
	if err := pub.PublishExport(ctx, export); err != nil {
		t.Fatalf("PublishExport failed: %v", err)
	}

	gotDoc, err := client.Get(ctx, ExportKey).Result()
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	if gotDoc != string(wantDoc) {
		t.Errorf("stored document differs from canonical form")
	}

	gotHash, err := client.Get(ctx, ExportHashKey).Result()
	if err != nil {
		t.Fatalf("GET hash: %v", err)
	}
	if gotHash != wantHash {
		t.Errorf("stored hash = %s, want %s", gotHash, wantHash)
	}

	// The stored document must decode back into an export.
	var decoded equivalency.Export
	if err := json.Unmarshal([]byte(gotDoc), &decoded); err != nil {
		t.Fatalf("stored document does not parse: %v", err)
	}
	if decoded.TableName != export.TableName {
		t.Errorf("table name = %s, want %s", decoded.TableName, export.TableName)
	}
}

type countingInvalidator struct {
	hits chan struct{}
}

func (c *countingInvalidator) Invalidate() {
	select {
	case c.hits <- struct{}{}:
	default:
	}
}

func TestSubscriber_Integration(t *testing.T) {
	pubClient := testRedis(t)
	subClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { _ = subClient.Close() })

	target := &countingInvalidator{hits: make(chan struct{}, 4)}
	sub := NewSubscriberWithClient(subClient, target, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	pub := NewPublisherWithClient(pubClient, quietLogger())

	// The subscription races Run's setup; retry until the broadcast lands.
	deadline := time.After(5 * time.Second)
	received := false
	for !received {
		if err := pub.BroadcastInvalidation(ctx, "policy updated"); err != nil {
			t.Fatalf("BroadcastInvalidation failed: %v", err)
		}
		select {
		case <-target.hits:
			received = true
		case <-deadline:
			t.Fatal("invalidation never reached the subscriber")
		case <-time.After(100 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
