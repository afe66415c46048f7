package relay

import (
	"bytes"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"
)

func collectApply(t *testing.T, f Faults, buf []byte) [][]byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	var mu sync.Mutex
	var got [][]byte
	f.Apply(rng, buf, func(b []byte) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})
	if f.Reorder > 0 {
		// Reordered datagrams arrive from their own goroutine.
		time.Sleep(2 * DefaultHoldMax)
	}
	mu.Lock()
	defer mu.Unlock()
	return got
}

func TestApplyClean(t *testing.T) {
	payload := []byte("hello relay")
	got := collectApply(t, Faults{}, payload)
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if !bytes.Equal(got[0], payload) {
		t.Fatalf("payload changed: %q", got[0])
	}
}

func TestApplyDoesNotAliasInput(t *testing.T) {
	payload := []byte("aliased?")
	got := collectApply(t, Faults{}, payload)
	payload[0] = 'X'
	if got[0][0] == 'X' {
		t.Fatal("delivered buffer aliases the input")
	}
}

func TestApplyLoss(t *testing.T) {
	got := collectApply(t, Faults{Loss: 1}, []byte("gone"))
	if len(got) != 0 {
		t.Fatalf("expected drop, got %d deliveries", len(got))
	}
}

func TestApplyCorruptFlipsOneByte(t *testing.T) {
	payload := []byte("0123456789")
	got := collectApply(t, Faults{Corrupt: 1}, payload)
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	diff := 0
	for i := range payload {
		if got[0][i] != payload[i] {
			diff++
			if got[0][i] != payload[i]^0xFF {
				t.Fatalf("byte %d flipped to %#x, want %#x", i, got[0][i], payload[i]^0xFF)
			}
		}
	}
	if diff != 1 {
		t.Fatalf("expected exactly 1 corrupted byte, got %d", diff)
	}
}

func TestApplyDuplicate(t *testing.T) {
	payload := []byte("twice")
	got := collectApply(t, Faults{Duplicate: 1}, payload)
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if !bytes.Equal(got[0], got[1]) {
		t.Fatal("duplicate differs from original")
	}
}

func TestApplyReorderDelays(t *testing.T) {
	f := Faults{Reorder: 1, HoldMin: 20 * time.Millisecond, HoldMax: 40 * time.Millisecond}
	rng := rand.New(rand.NewSource(7))
	delivered := make(chan []byte, 1)
	start := time.Now()
	f.Apply(rng, []byte("late"), func(b []byte) {
		delivered <- b
	})
	select {
	case <-delivered:
		if held := time.Since(start); held < f.HoldMin {
			t.Fatalf("reordered datagram delivered after %s, want at least %s", held, f.HoldMin)
		}
	case <-time.After(time.Second):
		t.Fatal("reordered datagram never delivered")
	}
}

func TestApplySeededReproducible(t *testing.T) {
	f := Faults{Loss: 0.3, Corrupt: 0.3, Duplicate: 0.3}
	payload := []byte("deterministic payload for the seeded run")
	run := func() [][]byte {
		rng := rand.New(rand.NewSource(99))
		var got [][]byte
		for i := 0; i < 50; i++ {
			f.Apply(rng, payload, func(b []byte) {
				got = append(got, b)
			})
		}
		return got
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			t.Fatalf("delivery %d differs between seeded runs", i)
		}
	}
}

func TestRelayForwardsBothDirections(t *testing.T) {
	// Echo server the relay forwards to.
	echoConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer echoConn.Close()
	go func() {
		buf := make([]byte, 2048)
		for {
			n, raddr, err := echoConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			echoConn.WriteToUDP(buf[:n], raddr)
		}
	}()

	r, err := NewRelay("127.0.0.1:0", "127.0.0.1:0", echoConn.LocalAddr().String(), Faults{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	r.Start()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	relayAddr := r.ClientAddr().(*net.UDPAddr)
	payload := []byte("through the middlebox")
	if _, err := client.WriteToUDP(payload, relayAddr); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("echo never came back through the relay: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("got %q back, want %q", buf[:n], payload)
	}
}
