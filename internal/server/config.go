package server

import (
	"net"
	"strconv"
	"time"
)

type HttpConfig struct {
	Host string `conf:"host"`
	Port int    `conf:"port"`
	H2c  bool   `conf:"h2c"`

	// ReadHeaderTimeout bounds reading request headers. Requests themselves
	// are not bounded, pods may take minutes to answer.
	ReadHeaderTimeout time.Duration `conf:"read_header_timeout"`
}

// Address returns the host:port the server listens on.
func (c HttpConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
