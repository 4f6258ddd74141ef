package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/progress"
)

func TestChannelSinkDeliversAndDrops(t *testing.T) {
	t.Parallel()

	sink := NewChannelSink(2)
	id := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{ScrapeID: id, TS: time.Now(), Stage: progress.StageScrapeStart},
		{ScrapeID: id, TS: time.Now(), Stage: progress.StageAssetDone, Category: "images", Count: 1},
		{ScrapeID: id, TS: time.Now(), Stage: progress.StageScrapeDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	assert.Equal(t, int64(1), sink.Dropped())

	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Consume(context.Background(), batch))

	var stages []progress.Stage
	for evt := range sink.Events() {
		stages = append(stages, evt.Stage)
	}
	assert.Equal(t, []progress.Stage{progress.StageScrapeStart, progress.StageAssetDone}, stages)
}

func TestChannelSinkThroughHub(t *testing.T) {
	t.Parallel()

	sink := NewChannelSink(16)
	hub := progress.NewHub(progress.Config{MaxBatchEvents: 1}, sink)
	id := progress.UUIDToBytes(uuid.New())
	hub.Emit(progress.Event{ScrapeID: id, TS: time.Now(), Stage: progress.StageScrapeStart})

	select {
	case evt := <-sink.Events():
		assert.Equal(t, progress.StageScrapeStart, evt.Stage)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	require.NoError(t, hub.Close(context.Background()))
	_, open := <-sink.Events()
	assert.False(t, open)
}
