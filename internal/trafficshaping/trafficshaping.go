// Package trafficshaping contains code to perform traffic shaping.
package trafficshaping

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/martian/v3/trafficshape"
)

// DefaultBitrate is the bitrate used by NewDialer.
const DefaultBitrate = 1 << 20

// Dialer is a dialer performing shaping.
type Dialer struct {
	bitrate int64
	dialer  *net.Dialer
}

// NewDialerWithBitrate returns a new dialer with the specified throttled bitrate.
func NewDialerWithBitrate(bitrate int64) *Dialer {
	return &Dialer{bitrate: bitrate, dialer: new(net.Dialer)}
}

// NewDialer returns a new dialer with the default throttled bitrate.
func NewDialer() *Dialer {
	return NewDialerWithBitrate(DefaultBitrate)
}

// Bitrate returns the throttled bitrate in bit/s.
func (d *Dialer) Bitrate() int64 {
	return d.bitrate
}

// Dial dials a shaped network connection.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext is like Dial but with a context.
func (d *Dialer) DialContext(
	ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	listener := trafficshape.NewListener(new(net.TCPListener))
	listener.SetReadBitrate(d.bitrate)
	listener.SetWriteBitrate(d.bitrate)
	return listener.GetTrafficShapedConn(conn), nil
}

// NewHTTPClient returns an HTTP client whose connections are all shaped
// by d. Connections are not reused across clients.
func (d *Dialer) NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           d.DialContext,
			DisableCompression:    true,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}
