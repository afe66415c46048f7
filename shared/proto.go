package shared

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Application command protocol carried over the reliable byte stream.
// A request is a single ASCII command line followed, for PUT, by the
// raw file bytes. A response is a single status line followed, for a
// successful GET, by the raw file bytes. The end of the stream marks
// the end of the body.
const (
	CmdGet = "GET"
	CmdPut = "PUT"

	RespOk  = "OK"
	RespErr = "ERR"
)

var ErrBadRequest = errors.New("malformed request line")
var ErrBadResponse = errors.New("malformed response line")

func GetRequest(name string) []byte {
	return []byte(fmt.Sprintf("%s %s\n", CmdGet, name))
}

func PutRequest(name string, body []byte) []byte {
	buf := []byte(fmt.Sprintf("%s %s\n", CmdPut, name))
	return append(buf, body...)
}

func OkResponse(info string, body []byte) []byte {
	buf := []byte(fmt.Sprintf("%s:%s\n", RespOk, info))
	return append(buf, body...)
}

func ErrResponse(reason string) []byte {
	return []byte(fmt.Sprintf("%s:%s\n", RespErr, reason))
}

// ParseRequest splits a received stream into command, file name and
// body. The name must be non-empty and free of whitespace.
func ParseRequest(stream []byte) (cmd string, name string, body []byte, err error) {
	line, body, err := splitLine(stream)
	if err != nil {
		return "", "", nil, errors.Wrap(ErrBadRequest, err.Error())
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", "", nil, errors.Wrapf(ErrBadRequest, "want 2 fields, got %d", len(fields))
	}
	cmd, name = fields[0], fields[1]
	switch cmd {
	case CmdGet:
		if len(body) != 0 {
			return "", "", nil, errors.Wrap(ErrBadRequest, "GET carries a body")
		}
	case CmdPut:
	default:
		return "", "", nil, errors.Wrapf(ErrBadRequest, "unknown command %q", cmd)
	}
	return cmd, name, body, nil
}

// ParseResponse splits a received stream into status, info text and
// body. For ERR responses the info is the failure reason.
func ParseResponse(stream []byte) (status string, info string, body []byte, err error) {
	line, body, err := splitLine(stream)
	if err != nil {
		return "", "", nil, errors.Wrap(ErrBadResponse, err.Error())
	}
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", nil, errors.Wrap(ErrBadResponse, "missing ':' separator")
	}
	status, info = line[:i], line[i+1:]
	if status != RespOk && status != RespErr {
		return "", "", nil, errors.Wrapf(ErrBadResponse, "unknown status %q", status)
	}
	return status, info, body, nil
}

func splitLine(stream []byte) (string, []byte, error) {
	i := bytes.IndexByte(stream, '\n')
	if i < 0 {
		return "", nil, errors.New("no line terminator")
	}
	return string(stream[:i]), stream[i+1:], nil
}
