package shared

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestGetRequestRoundTrip(t *testing.T) {
	cmd, name, body, err := ParseRequest(GetRequest("report.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if cmd != CmdGet || name != "report.pdf" || len(body) != 0 {
		t.Fatalf("got %q %q body=%d", cmd, name, len(body))
	}
}

func TestPutRequestRoundTrip(t *testing.T) {
	payload := []byte("file contents\nwith a newline")
	cmd, name, body, err := ParseRequest(PutRequest("notes.txt", payload))
	if err != nil {
		t.Fatal(err)
	}
	if cmd != CmdPut || name != "notes.txt" {
		t.Fatalf("got %q %q", cmd, name)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("body %q, want %q", body, payload)
	}
}

func TestParseRequestRejects(t *testing.T) {
	cases := [][]byte{
		[]byte("GET\n"),
		[]byte("GET a b\n"),
		[]byte("DELETE x\n"),
		[]byte("GET x"),
		[]byte("GET x\ntrailing body"),
		{},
	}
	for _, c := range cases {
		if _, _, _, err := ParseRequest(c); errors.Cause(err) != ErrBadRequest {
			t.Errorf("ParseRequest(%q) err = %v, want ErrBadRequest", c, err)
		}
	}
}

func TestOkResponseRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0xFF, 0x0A, 0x42}
	status, info, body, err := ParseResponse(OkResponse("4 bytes", payload))
	if err != nil {
		t.Fatal(err)
	}
	if status != RespOk || info != "4 bytes" {
		t.Fatalf("got %q %q", status, info)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("body %v, want %v", body, payload)
	}
}

func TestErrResponseRoundTrip(t *testing.T) {
	status, info, body, err := ParseResponse(ErrResponse("no such file"))
	if err != nil {
		t.Fatal(err)
	}
	if status != RespErr || info != "no such file" || len(body) != 0 {
		t.Fatalf("got %q %q body=%d", status, info, len(body))
	}
}

func TestParseResponseRejects(t *testing.T) {
	cases := [][]byte{
		[]byte("OK no colon\n"),
		[]byte("MAYBE:x\n"),
		[]byte("OK:unterminated"),
		{},
	}
	for _, c := range cases {
		if _, _, _, err := ParseResponse(c); errors.Cause(err) != ErrBadResponse {
			t.Errorf("ParseResponse(%q) err = %v, want ErrBadResponse", c, err)
		}
	}
}
