package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/config"
	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"github.com/gftdcojp/flowfile-queue/internal/queue"
	"github.com/gftdcojp/flowfile-queue/internal/repo"
	"github.com/gftdcojp/flowfile-queue/internal/scheduler"
	"github.com/gftdcojp/flowfile-queue/internal/swap"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// startEmbeddedNATS starts an embedded nats-server on a random port.
func startEmbeddedNATS(t *testing.T) string {
	t.Helper()

	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1, // random port
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}

	t.Cleanup(ns.Shutdown)
	return fmt.Sprintf("nats://127.0.0.1:%d", opts.Port)
}

func newTestPipeline(t *testing.T, nc *nats.Conn, qc config.QueueConfig) (*Pipeline, *queue.Queue) {
	t.Helper()

	dir := t.TempDir()
	swapMgr, err := swap.NewFileManager(filepath.Join(dir, "swap"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	repository, err := repo.NewBoltRepository(filepath.Join(dir, "repo.db"), false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltRepository: %v", err)
	}
	t.Cleanup(func() { repository.Close() })

	claims := flowfile.NewClaimManager()
	sched := scheduler.NewChannelScheduler()
	source := scheduler.StandardComponent{ID: qc.Identifier + ".source", Strategy: scheduler.EventDriven}
	dest := scheduler.StandardComponent{ID: qc.Identifier + ".destination", Strategy: scheduler.EventDriven}

	q := queue.New(queue.Config{
		Identifier:           qc.Identifier,
		Connection:           scheduler.StandardConnection{Src: source, Dst: dest},
		Scheduler:            sched,
		SwapManager:          swapMgr,
		FlowFileRepository:   repository,
		ProvenanceRepository: repository,
		ClaimManager:         claims,
		SwapThreshold:        qc.SwapThreshold,
		DiscardCorruptSwap:   true,
		Logger:               zap.NewNop(),
	})

	var nextID atomic.Uint64
	p := NewPipeline(PipelineConfig{
		NC:           nc,
		Queue:        q,
		QueueCfg:     qc,
		Repository:   repository,
		Provenance:   repository,
		ClaimManager: claims,
		Scheduler:    sched,
		Source:       source,
		Destination:  dest,
		NextID:       &nextID,
		Logger:       zap.NewNop(),
	})
	return p, q
}

func TestPipelineEndToEnd(t *testing.T) {
	url := startEmbeddedNATS(t)

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	defer nc.Close()

	qc := config.QueueConfig{
		Identifier:    "e2e",
		InSubject:     "flow.in",
		OutSubject:    "flow.out",
		SwapThreshold: 1000,
		DeliveryBatch: 10,
	}

	p, _ := newTestPipeline(t, nc, qc)

	outCh := make(chan *nats.Msg, 16)
	sub, err := nc.ChanSubscribe("flow.out", outCh)
	if err != nil {
		t.Fatalf("subscribing to out subject: %v", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// Give the consumer a moment to subscribe.
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		msg := nats.NewMsg("flow.in")
		msg.Data = []byte(fmt.Sprintf("payload-%d", i))
		msg.Header.Set("Origin", "test")
		if err := nc.PublishMsg(msg); err != nil {
			t.Fatalf("publishing: %v", err)
		}
	}

	received := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	for len(received) < 5 {
		select {
		case msg := <-outCh:
			received[string(msg.Data)] = true
			if msg.Header.Get("FFQ-Id") == "" {
				t.Error("expected FFQ-Id header on delivered message")
			}
			if msg.Header.Get("FFQ-Attr-nats.header.Origin") != "test" {
				t.Error("expected origin header attribute to survive the queue")
			}
		case <-deadline:
			t.Fatalf("timed out; received %d of 5 messages", len(received))
		}
	}

	for i := 0; i < 5; i++ {
		if !received[fmt.Sprintf("payload-%d", i)] {
			t.Errorf("missing payload-%d", i)
		}
	}
}

func TestPipelineDrainsQueueToEmpty(t *testing.T) {
	url := startEmbeddedNATS(t)

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	defer nc.Close()

	qc := config.QueueConfig{
		Identifier:    "drain",
		InSubject:     "drain.in",
		OutSubject:    "drain.out",
		SwapThreshold: 1000,
		DeliveryBatch: 50,
	}

	p, q := newTestPipeline(t, nc, qc)

	// Keep the out subject subscribed so publishes are not pointless.
	sub, err := nc.SubscribeSync("drain.out")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 100; i++ {
		if err := nc.Publish("drain.in", []byte("x")); err != nil {
			t.Fatalf("publishing: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if q.IsEmpty() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("queue did not drain; size %v", q.Size())
}

func TestContentStore(t *testing.T) {
	claims := flowfile.NewClaimManager()
	store := newContentStore(claims)

	claim := flowfile.ResourceClaim{Container: contentContainer, Section: contentSection, ID: "1"}
	store.put(claim, []byte("hello"))

	data, err := store.get(claim)
	if err != nil || string(data) != "hello" {
		t.Fatalf("get: %q, %v", data, err)
	}

	store.release(claim)
	if _, err := store.get(claim); err == nil {
		t.Fatal("expected content to be freed after release")
	}
}

func TestContentStoreSweep(t *testing.T) {
	claims := flowfile.NewClaimManager()
	store := newContentStore(claims)

	claim := flowfile.ResourceClaim{Container: contentContainer, Section: contentSection, ID: "7"}
	store.put(claim, []byte("data"))

	// Simulate the drop path releasing the claim directly on the manager.
	claims.DecrementClaimantCount(claim)
	store.sweep()

	if _, err := store.get(claim); err == nil {
		t.Fatal("expected sweep to free the orphaned payload")
	}
}
