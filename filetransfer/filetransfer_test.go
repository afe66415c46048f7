package filetransfer

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/d4l3k/messagediff"

	"github.com/martenwallewein/rft/arq"
	"github.com/martenwallewein/rft/relay"
)

func testOptions() arq.SessionOptions {
	return arq.SessionOptions{
		WindowSize: 8,
		Timeout:    200 * time.Millisecond,
		MaxRetries: 10,
		ChunkSize:  256,
	}
}

func startServer(t *testing.T, dir string) *Server {
	t.Helper()
	srv := NewServer(dir, testOptions())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	t.Cleanup(srv.Close)
	return srv
}

func testClient(remote string) *Client {
	return &Client{Network: "udp", RemoteAddr: remote, Options: testOptions()}
}

func mkFile(t *testing.T, dir, name string, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 253)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, name), buf, 0644); err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := mkFile(t, dir, "data.bin", 10000)
	srv := startServer(t, dir)

	got, err := testClient(srv.Addr().String()).Get("data.bin")
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff(want, got); !equal {
		t.Fatalf("downloaded file differs: %s", diff)
	}
}

func TestPutRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srv := startServer(t, dir)

	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i * 7)
	}
	if err := testClient(srv.Addr().String()).Put("upload.bin", want); err != nil {
		t.Fatal(err)
	}

	got, err := ioutil.ReadFile(filepath.Join(dir, "upload.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff(want, got); !equal {
		t.Fatalf("stored file differs: %s", diff)
	}
}

func TestPutThenGet(t *testing.T) {
	dir := t.TempDir()
	srv := startServer(t, dir)
	c := testClient(srv.Addr().String())

	want := []byte("small file that goes up and comes back down")
	if err := c.Put("ball.txt", want); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("ball.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetMissingFile(t *testing.T) {
	dir := t.TempDir()
	srv := startServer(t, dir)

	_, err := testClient(srv.Addr().String()).Get("no-such-file")
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !strings.Contains(err.Error(), "cannot read") {
		t.Fatalf("err = %v, want the server's refusal", err)
	}
}

func TestGetStripsDirectoryPart(t *testing.T) {
	dir := t.TempDir()
	want := mkFile(t, dir, "safe.txt", 100)
	srv := startServer(t, dir)

	got, err := testClient(srv.Addr().String()).Get("../../safe.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatal("traversal path did not resolve to the served directory")
	}
}

func TestConcurrentClients(t *testing.T) {
	dir := t.TempDir()
	srv := startServer(t, dir)

	files := make(map[string][]byte)
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("file-%d.bin", i)
		files[name] = mkFile(t, dir, name, 2000+i*501)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(files))
	for name, want := range files {
		wg.Add(1)
		go func(name string, want []byte) {
			defer wg.Done()
			got, err := testClient(srv.Addr().String()).Get(name)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != len(want) {
				errs <- fmt.Errorf("%s: got %d bytes, want %d", name, len(got), len(want))
			}
		}(name, want)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestTransferThroughImpairedRelay(t *testing.T) {
	dir := t.TempDir()
	want := mkFile(t, dir, "lossy.bin", 8192)
	srv := startServer(t, dir)

	faults := relay.Faults{
		Loss:      0.05,
		Corrupt:   0.03,
		Duplicate: 0.02,
		Reorder:   0.05,
		HoldMin:   10 * time.Millisecond,
		HoldMax:   50 * time.Millisecond,
	}
	r, err := relay.NewRelay("127.0.0.1:0", "127.0.0.1:0", srv.Addr().String(), faults, 7)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	r.Start()

	c := testClient(r.ClientAddr().String())
	c.Options.Timeout = 250 * time.Millisecond
	c.Options.MaxRetries = 20

	got, err := c.Get("lossy.bin")
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff(want, got); !equal {
		t.Fatalf("file damaged in transit: %s", diff)
	}
}
