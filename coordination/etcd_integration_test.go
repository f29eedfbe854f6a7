//go:build integration

package coordination_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/xraph/schedcore/coordination"
	"github.com/xraph/schedcore/task"
)

// setupEtcd starts a single-node etcd container and returns a connected
// client, mirroring store/bun's Postgres-container setup for the
// coordination mirror's own backing store.
func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.5.14",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--advertise-client-urls", "http://0.0.0.0:2379",
			"--listen-client-urls", "http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForLog("ready to serve client requests").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "2379")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{fmt.Sprintf("%s:%s", host, mapped.Port())},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new etcd client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestEtcdMirror_PublishesToRealEtcd(t *testing.T) {
	client := setupEtcd(t)
	mirror := coordination.NewEtcdMirror(client, "/sched-integration", nil)

	an := task.Snapshot{Count: 4}
	mirror.PublishStart(context.Background(), "g", "g-0", an)

	resp, err := client.Get(context.Background(), "/sched-integration/g/g-0/state")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(resp.Kvs) != 1 {
		t.Fatalf("expected one key, got %d", len(resp.Kvs))
	}
	if got := string(resp.Kvs[0].Value); got != "STARTED" {
		t.Fatalf("state = %q, want STARTED", got)
	}
}
