package rendezvous

import (
	"net"

	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/wire"
)

// Client is the client-side handle on the TCP control channel to the
// rendezvous broker. Announce performs the full RSA-bootstrap handshake and
// returns once the broker has replied with the current peer list; Next then
// serves subsequent frames (Call, CallResponse, Disconnect) one at a time for
// the event loop to dispatch.
type Client struct {
	conn      net.Conn
	ownKeys   *crypto.KeyPair
	brokerKey crypto.NetworkedPublicKey
	session   *crypto.SymmetricSession
}

// Dial connects to the broker at addr. The connection is not yet announced;
// call Announce next.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial rendezvous broker")
	}
	return &Client{conn: conn}, nil
}

// Announce performs the bootstrap handshake described in spec.md §4.1:
//  1. receive the broker's unencrypted AnnounceRequest (carries its RSA key)
//  2. generate a fresh AES session secret, send it back RSA-sealed
//  3. send our own long-lived public key over the now-symmetric channel
//  4. receive the broker's PeerViewList reply
func (c *Client) Announce(ownKeys *crypto.KeyPair) (*model.PeerViewList, error) {
	c.ownKeys = ownKeys

	var req model.AnnounceRequestMsg
	if _, err := readDecoder(c.conn, &req, nil); err != nil {
		return nil, errors.Wrap(err, "read announce request")
	}
	c.brokerKey = req.BrokerPublicKey

	sess, err := crypto.NewSymmetricSession()
	if err != nil {
		return nil, errors.Wrap(err, "generate session secret")
	}
	sealedSecret, err := c.brokerKey.Encrypt(sess.Secret())
	if err != nil {
		return nil, errors.Wrap(err, "rsa-seal session secret")
	}
	if err := writeEncoder(c.conn, model.AnnounceSecret, &model.AnnounceSecretMsg{Secret: sealedSecret}, nil); err != nil {
		return nil, errors.Wrap(err, "send announce secret")
	}
	c.session = sess

	pub := ownKeys.PublicKey()
	if err := writeEncoder(c.conn, model.Announce, &model.AnnouncePublic{PublicKey: pub}, c.session); err != nil {
		return nil, errors.Wrap(err, "send announce public")
	}

	var list model.PeerViewList
	if _, err := readDecoder(c.conn, &list, c.session); err != nil {
		return nil, errors.Wrap(err, "read peer view list")
	}
	return &list, nil
}

// Next blocks for one frame from the broker and decodes it.
func (c *Client) Next() (model.MsgType, wire.Decoder, error) {
	return readAny(c.conn, c.session)
}

// SendCall forwards a call request to the broker for routing to callee.
func (c *Client) SendCall(call *model.CallMsg) error {
	return writeEncoder(c.conn, model.Call, call, c.session)
}

// SendCallResponse forwards the callee's accept/deny back through the broker.
func (c *Client) SendCallResponse(resp *model.CallResponseMsg) error {
	return writeEncoder(c.conn, model.CallResponse, resp, c.session)
}

// Close tears down the TCP connection.
func (c *Client) Close() error { return c.conn.Close() }

// Conn exposes the underlying connection for the event loop's poller.
func (c *Client) Conn() net.Conn { return c.conn }
