package transport_test

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
	"golang.org/x/sync/errgroup"
)

type transportFactory struct {
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
	endpoint func(t *testing.T) string
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

var transports = map[string]transportFactory{
	"tcp": {
		server:   tcp.NewTCPDefaultServerTransport,
		client:   tcp.NewTCPClientTransport,
		endpoint: freePort,
	},
	"unix": {
		server: unix.NewUnixDefaultServerTransport,
		client: unix.NewUnixClientTransport,
		endpoint: func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "dlock.sock")
		},
	},
	"http": {
		server:   http.NewHttpServerTransport,
		client:   http.NewHttpClientTransport,
		endpoint: freePort,
	},
}

// echoHandler prefixes every request with its shard id
func echoHandler(shardId uint64, req []byte) []byte {
	return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
}

// startServer runs the server until the test ends and returns a connected client
func startServer(t *testing.T, f transportFactory) transport.IRPCClientTransport {
	t.Helper()

	endpoint := f.endpoint(t)
	server := f.server()
	server.RegisterHandler(echoHandler)

	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport:     common.ServerTransportConfig{Endpoint: endpoint, WorkersPerConn: 4},
		})
	}()
	t.Cleanup(func() {
		server.Close()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Listen returned error after Close: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Listen did not return after Close")
		}
	})

	client := f.client()
	config := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             3,
			ConnectionsPerEndpoint: 2,
		},
	}

	// wait for the listener
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := client.Connect(config)
		if err == nil {
			if _, err = client.Send(0, []byte("ping")); err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTransports(t *testing.T) {
	for name, f := range transports {
		t.Run(name, func(t *testing.T) {
			client := startServer(t, f)

			t.Run("RoundTrip", func(t *testing.T) {
				resp, err := client.Send(7, []byte("hello"))
				if err != nil {
					t.Fatalf("Send failed: %v", err)
				}
				if string(resp) != "7:hello" {
					t.Errorf("got %q, want %q", resp, "7:hello")
				}
			})

			t.Run("EmptyPayload", func(t *testing.T) {
				resp, err := client.Send(1, nil)
				if err != nil {
					t.Fatalf("Send failed: %v", err)
				}
				if string(resp) != "1:" {
					t.Errorf("got %q, want %q", resp, "1:")
				}
			})

			t.Run("LargePayload", func(t *testing.T) {
				// larger than the pooled server buffer
				payload := bytes.Repeat([]byte("x"), 200*1024)
				resp, err := client.Send(2, payload)
				if err != nil {
					t.Fatalf("Send failed: %v", err)
				}
				if !bytes.Equal(resp, append([]byte("2:"), payload...)) {
					t.Errorf("large payload corrupted (len %d)", len(resp))
				}
			})

			t.Run("Concurrent", func(t *testing.T) {
				var g errgroup.Group
				for i := 0; i < 64; i++ {
					g.Go(func() error {
						req := []byte(fmt.Sprintf("req-%d", i))
						resp, err := client.Send(uint64(i), req)
						if err != nil {
							return err
						}
						if want := fmt.Sprintf("%d:req-%d", i, i); string(resp) != want {
							return fmt.Errorf("got %q, want %q", resp, want)
						}
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					t.Error(err)
				}
			})
		})
	}
}

func TestCloseBeforeListen(t *testing.T) {
	for name, f := range transports {
		t.Run(name, func(t *testing.T) {
			server := f.server()
			server.RegisterHandler(echoHandler)
			if err := server.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			config := common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: f.endpoint(t)}}
			done := make(chan error, 1)
			go func() { done <- server.Listen(config) }()

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Listen after Close returned %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("Listen blocked after Close")
			}
		})
	}
}

func TestClientConnectErrors(t *testing.T) {
	for name, f := range transports {
		t.Run(name, func(t *testing.T) {
			client := f.client()
			if err := client.Connect(common.ClientConfig{}); err == nil {
				t.Errorf("expected error without endpoints")
			}
		})
	}
}

func TestClientRejectsBadEndpoints(t *testing.T) {
	notASocket := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(notASocket, nil, 0o600); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	tests := []struct {
		name     string
		client   transport.IRPCClientTransport
		endpoint string
	}{
		{"TCPMissingPort", tcp.NewTCPClientTransport(), "localhost"},
		{"UnixMissingSocket", unix.NewUnixClientTransport(), filepath.Join(t.TempDir(), "none.sock")},
		{"UnixRegularFile", unix.NewUnixClientTransport(), notASocket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := common.ClientConfig{
				Transport: common.ClientTransportConfig{Endpoints: []string{tt.endpoint}},
			}
			if err := tt.client.Connect(config); err == nil {
				tt.client.Close()
				t.Errorf("expected connect error for %s", tt.endpoint)
			}
		})
	}
}
