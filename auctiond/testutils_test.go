package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/auction"
	"github.com/cloudx-io/openbidding/bank"
	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/identity"
	"github.com/cloudx-io/openbidding/store"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		t.Fatalf("invalid hex string: %s", hexStr)
	}
	return b
}

// CreateMockEnclave returns an attester producing unsigned COSE_Sign1
// documents in the shape the NSM emits.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			doc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1234567890),
				"pcrs": map[uint64][]byte{
					0: mustDecodeHex(t, "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"),
					1: mustDecodeHex(t, "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"),
					2: mustDecodeHex(t, "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"),
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			payload, err := cbor.Marshal(doc)
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				payload,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

// fixture is a daemon wired to in-memory collaborators.
type fixture struct {
	server *Server
	bank   *bank.Bank
	log    *zap.Logger
}

var genesis = map[core.Identity]core.Amount{
	"owner":   100,
	"sender1": 100,
	"sender2": 100,
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	log := zap.NewNop()

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	assert.NoError(t, cfg.Validate())

	bk := bank.New(core.Identity(cfg.Escrow), genesis, log)
	metrics, err := auction.NewMetrics()
	assert.NoError(t, err)
	svc := auction.NewService(store.NewMemoryStore(), identity.PlainValidator{}, bk, log, metrics)

	return &fixture{server: NewServer(cfg, svc, log), bank: bk, log: log}
}

// serve runs the server on a loopback listener for the duration of the test
// and returns its address.
func (f *fixture) serve(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return "tcp://" + listener.Addr().String()
}
