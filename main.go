// Transfers files over lossy datagram links, retransmitting exactly the
// packets that got lost.
package main

import (
	"crypto/md5"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/tagflag"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/martenwallewein/rft/arq"
	"github.com/martenwallewein/rft/filetransfer"
	"github.com/martenwallewein/rft/socket"
)

var flags = struct {
	IsServer   bool
	Net        string
	LocalAddr  string
	RemoteAddr string
	Dir        string
	Op         string
	File       string
	OutFile    string
	Window     int
	Timeout    int
	MaxRetries int
	ChunkSize  int
	MaxSpeed   int64
	Verbose    bool
	tagflag.StartPos
}{
	Net:        "udp",
	LocalAddr:  ":5150",
	Dir:        ".",
	Op:         "get",
	Window:     arq.DefaultWindowSize,
	Timeout:    2000,
	MaxRetries: arq.DefaultMaxRetries,
	ChunkSize:  arq.DefaultChunkSize,
}

func LogFatal(msg string, a ...interface{}) {
	log.Fatal(msg, a)
	os.Exit(1)
}

func Check(e error) {
	if e != nil {
		LogFatal("Fatal error. Exiting.", e, e.Error())
	}
}

func main() {
	if err := mainErr(); err != nil {
		log.Infof("error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	tagflag.Parse(&flags)
	if flags.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	opts := arq.SessionOptions{
		WindowSize: flags.Window,
		Timeout:    time.Duration(flags.Timeout) * time.Millisecond,
		MaxRetries: flags.MaxRetries,
		ChunkSize:  flags.ChunkSize,
		MaxSpeed:   flags.MaxSpeed,
	}

	if flags.IsServer {
		return serve(opts)
	}
	return runClient(opts)
}

func serve(opts arq.SessionOptions) error {
	if flags.Net == "udp" {
		return filetransfer.ListenAndServe(flags.LocalAddr, flags.Dir, opts)
	}
	// transports without per-datagram sources serve one connection at a time
	srv := filetransfer.NewServer(flags.Dir, opts)
	for {
		sock := socket.NewTransportSocket(flags.Net)
		if err := sock.Listen(flags.LocalAddr); err != nil {
			return errors.Wrapf(err, "listening on %s", flags.LocalAddr)
		}
		if err := srv.ServeConn(sock); err != nil {
			return err
		}
	}
}

func runClient(opts arq.SessionOptions) error {
	if flags.File == "" {
		return errors.New("no file given")
	}
	localAddr := ""
	if flags.Net != "udp" {
		// the dispatcher needs the full local address here
		localAddr = flags.LocalAddr
	}
	c := &filetransfer.Client{
		Network:    flags.Net,
		LocalAddr:  localAddr,
		RemoteAddr: flags.RemoteAddr,
		Options:    opts,
	}
	switch flags.Op {
	case "get":
		data, err := c.Get(flags.File)
		Check(err)
		out := flags.OutFile
		if out == "" {
			out = filepath.Base(flags.File)
		}
		Check(ioutil.WriteFile(out, data, 0644))
		log.Infof("Wrote %s, md5 %x", out, md5.Sum(data))
	case "put":
		data, err := ioutil.ReadFile(flags.File)
		Check(err)
		log.Infof("Uploading %s, md5 %x", flags.File, md5.Sum(data))
		Check(c.Put(filepath.Base(flags.File), data))
	default:
		return errors.Errorf("unknown op %q", flags.Op)
	}
	return nil
}
