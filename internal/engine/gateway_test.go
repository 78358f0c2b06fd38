package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerIsMemoizedAcrossConcurrentCallers(t *testing.T) {
	g := NewGateway(Config{})

	var created atomic.Int32
	release := make(chan struct{})
	g.newWorker = func(cfg Config) (*Worker, error) {
		created.Add(1)
		<-release
		return newWorker(cfg)
	}

	const callers = 16
	workers := make([]*Worker, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := g.Worker(context.Background())
			assert.NoError(t, err)
			workers[i] = w
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, w := range workers {
		assert.Same(t, workers[0], w)
	}

	again, err := g.Worker(context.Background())
	require.NoError(t, err)
	assert.Same(t, workers[0], again)
	assert.Equal(t, int32(1), created.Load())
}

func TestWorkerFailureIsSharedAndNotMemoized(t *testing.T) {
	g := NewGateway(Config{})
	boom := errors.New("boom")

	var calls atomic.Int32
	g.newWorker = func(cfg Config) (*Worker, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return newWorker(cfg)
	}

	_, err := g.Worker(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkerUnavailable)
	assert.ErrorIs(t, err, boom)

	_, err = g.CreateRouterForRoom(context.Background(), "room1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWorkerRespectsContext(t *testing.T) {
	g := NewGateway(Config{})
	block := make(chan struct{})
	defer close(block)
	g.newWorker = func(cfg Config) (*Worker, error) {
		<-block
		return newWorker(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Worker(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownInvalidatesRoutersAndTransports(t *testing.T) {
	g := NewGateway(Config{})
	ctx := context.Background()

	r, err := g.CreateRouterForRoom(ctx, "room1")
	require.NoError(t, err)
	tr, err := r.CreateTransport(ctx, "peer1")
	require.NoError(t, err)

	w, err := g.Worker(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, w.RouterCount())

	require.NoError(t, g.Shutdown())

	assert.True(t, w.Closed())
	assert.True(t, r.Closed())
	assert.True(t, tr.Closed())
	assert.Equal(t, 0, w.RouterCount())

	_, err = r.CreateTransport(ctx, "peer2")
	assert.ErrorIs(t, err, ErrClosed)

	next, err := g.Worker(ctx)
	require.NoError(t, err)
	assert.NotSame(t, w, next)

	require.NoError(t, g.Shutdown())
	require.NoError(t, g.Shutdown())
}

func TestRouterCloseClosesTransportsOnce(t *testing.T) {
	g := NewGateway(Config{})
	ctx := context.Background()

	r, err := g.CreateRouterForRoom(ctx, "room1")
	require.NoError(t, err)
	a, err := r.CreateTransport(ctx, "a")
	require.NoError(t, err)
	b, err := r.CreateTransport(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.NoError(t, a.Close())
}

func TestTransportAnswersOffer(t *testing.T) {
	g := NewGateway(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := g.CreateRouterForRoom(ctx, "room1")
	require.NoError(t, err)
	tr, err := r.CreateTransport(ctx, "peer1")
	require.NoError(t, err)
	defer tr.Close()

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	require.NoError(t, err)

	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(offer))

	answer, err := tr.Connect(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.NotEmpty(t, answer.SDP)
	require.NoError(t, client.SetRemoteDescription(answer))
}

func TestConsumeRejectsForeignProducer(t *testing.T) {
	g := NewGateway(Config{})
	ctx := context.Background()

	r, err := g.CreateRouterForRoom(ctx, "room1")
	require.NoError(t, err)
	tr, err := r.CreateTransport(ctx, "peer1")
	require.NoError(t, err)
	defer tr.Close()

	_, _, err = tr.Consume(ctx, fakeProducer{})
	assert.ErrorIs(t, err, ErrForeignProducer)
}

type fakeProducer struct{ Producer }
