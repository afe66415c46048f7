package filetransfer

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/martenwallewein/rft/arq"
	"github.com/martenwallewein/rft/shared"
	"github.com/martenwallewein/rft/socket"
	"github.com/martenwallewein/rft/utils"
)

// Client fetches and stores files on a remote Server. Each call runs
// over its own session; the zero LocalAddr binds an ephemeral port.
type Client struct {
	Network    string
	LocalAddr  string
	RemoteAddr string
	Options    arq.SessionOptions
}

// Get downloads the named file and returns its contents.
func (c *Client) Get(name string) ([]byte, error) {
	body, err := c.roundTrip(shared.GetRequest(name))
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", name)
	}
	log.Infof("filetransfer: got %s, %s", name, utils.ByteCountSI(int64(len(body))))
	return body, nil
}

// Put uploads body under the given name.
func (c *Client) Put(name string, body []byte) error {
	if _, err := c.roundTrip(shared.PutRequest(name, body)); err != nil {
		return errors.Wrapf(err, "PUT %s", name)
	}
	log.Infof("filetransfer: put %s, %s", name, utils.ByteCountSI(int64(len(body))))
	return nil
}

func (c *Client) roundTrip(req []byte) ([]byte, error) {
	sock := socket.NewTransportSocket(c.Network)
	if err := sock.Dial(c.LocalAddr, c.RemoteAddr); err != nil {
		return nil, errors.Wrapf(err, "dialing %s", c.RemoteAddr)
	}
	sess, err := arq.NewSession(sock, c.Options)
	if err != nil {
		sock.Close()
		return nil, err
	}
	sess.StartReader()

	if err := sess.Send(req); err != nil {
		return nil, err
	}
	if err := sess.Close(); err != nil {
		return nil, err
	}
	raw, err := sess.Receive()
	if err != nil {
		return nil, err
	}
	status, info, body, err := shared.ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	if status == shared.RespErr {
		return nil, errors.Errorf("server: %s", info)
	}
	return body, nil
}
