package rendezvous

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/wire"
)

// Session is the broker's view of one connected client: its TCP link, the
// symmetric tunnel upgraded during the handshake, its announced public key
// (once known), and the UDP address it is reachable at for punch-through —
// nil until BindUDPAddress learns it from that client's own UDP bootstrap
// traffic (spec.md §4.4), never guessed from the TCP connection's address.
type Session struct {
	Conn    net.Conn
	Addr    *net.UDPAddr
	Session *crypto.SymmetricSession
	Key     crypto.NetworkedPublicKey
	known   bool

	mu sync.Mutex
}

// Table is the broker's session registry, keyed by public key once a session
// has announced. Sessions that have dialed in but not yet completed the
// handshake are tracked separately, keyed by connection, so a lost link
// before announcement doesn't need a key to clean up.
type Table struct {
	mu        sync.Mutex
	announced map[crypto.NetworkedPublicKey]*Session
	pending   map[net.Conn]*Session
}

// NewTable returns an empty broker session registry.
func NewTable() *Table {
	return &Table{
		announced: make(map[crypto.NetworkedPublicKey]*Session),
		pending:   make(map[net.Conn]*Session),
	}
}

// Accept performs the broker's half of the bootstrap handshake against a
// freshly-accepted TCP connection: send our AnnounceRequest, receive the
// RSA-sealed session secret, then the client's public key. Returns the
// now-fully-announced session, already inserted into the table, along with
// the peer list that should be handed back to the caller (every other
// currently announced session, address-stripped).
func (t *Table) Accept(conn net.Conn, brokerKeys *crypto.KeyPair) (*Session, []model.PeerView, error) {
	sess := &Session{Conn: conn}

	t.mu.Lock()
	t.pending[conn] = sess
	t.mu.Unlock()

	req := &model.AnnounceRequestMsg{BrokerPublicKey: brokerKeys.PublicKey()}
	if err := writeEncoder(conn, model.AnnounceRequest, req, nil); err != nil {
		t.dropPending(conn)
		return nil, nil, errors.Wrap(err, "send announce request")
	}

	var secretMsg model.AnnounceSecretMsg
	if _, err := readDecoder(conn, &secretMsg, nil); err != nil {
		t.dropPending(conn)
		return nil, nil, errors.Wrap(err, "read announce secret")
	}
	secret, err := brokerKeys.Decrypt(secretMsg.Secret)
	if err != nil {
		t.dropPending(conn)
		return nil, nil, errors.Wrap(err, "rsa-unseal session secret")
	}
	symSess, err := crypto.NewSymmetricSessionFromSecret(secret)
	if err != nil {
		t.dropPending(conn)
		return nil, nil, errors.Wrap(err, "install symmetric session")
	}
	sess.Session = symSess

	var pub model.AnnouncePublic
	if _, err := readDecoder(conn, &pub, symSess); err != nil {
		t.dropPending(conn)
		return nil, nil, errors.Wrap(err, "read announce public")
	}
	sess.Key = pub.PublicKey
	sess.known = true

	t.mu.Lock()
	delete(t.pending, conn)
	views := make([]model.PeerView, 0, len(t.announced))
	for k := range t.announced {
		views = append(views, model.PeerView{PublicKey: k})
	}
	t.announced[sess.Key] = sess
	t.mu.Unlock()

	list := &model.PeerViewList{Peers: views}
	if err := writeEncoder(conn, model.Announce /* reused as a generic reply tag for PeerViewList */, list, symSess); err != nil {
		return nil, nil, errors.Wrap(err, "send peer view list")
	}

	return sess, views, nil
}

func (t *Table) dropPending(conn net.Conn) {
	t.mu.Lock()
	delete(t.pending, conn)
	t.mu.Unlock()
}

// Remove deletes an announced session and returns its key, so the caller can
// broadcast a Disconnect.
func (t *Table) Remove(conn net.Conn) (crypto.NetworkedPublicKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.announced {
		if s.Conn == conn {
			delete(t.announced, k)
			return k, true
		}
	}
	return crypto.NetworkedPublicKey{}, false
}

// Next reads and decodes one frame from an announced session's connection,
// for the broker's per-connection read loop.
func (t *Table) Next(sess *Session) (model.MsgType, wire.Decoder, error) {
	return readAny(sess.Conn, sess.Session)
}

// BindUDPAddress records the observed UDP source address for an already
// TCP-announced session, per spec.md §4.4's UDP bootstrap: "once the broker
// binds the observed UDP source address to that public key". Returns false
// if key hasn't completed the TCP announce yet, so the caller can ignore
// premature UDP bootstrap traffic.
func (t *Table) BindUDPAddress(key crypto.NetworkedPublicKey, addr *net.UDPAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.announced[key]
	if !ok {
		return false
	}
	sess.Addr = addr
	return true
}

// Get returns the announced session for a public key.
func (t *Table) Get(key crypto.NetworkedPublicKey) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.announced[key]
	return s, ok
}

// Broadcast sends tag/enc to every announced session except skip.
func (t *Table) Broadcast(tag model.MsgType, marshal func(*Session) error, skip crypto.NetworkedPublicKey) {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.announced))
	for k, s := range t.announced {
		if k == skip {
			continue
		}
		sessions = append(sessions, s)
	}
	t.mu.Unlock()
	for _, s := range sessions {
		_ = marshal(s)
	}
}

// BroadcastDisconnect tells every remaining announced session that key has
// dropped, per spec.md §4.7.
func (t *Table) BroadcastDisconnect(key crypto.NetworkedPublicKey) {
	msg := &model.DisconnectMsg{PublicKey: key}
	t.Broadcast(model.Disconnect, func(s *Session) error {
		return writeEncoder(s.Conn, model.Disconnect, msg, s.Session)
	}, key)
}

// RouteCall relays a Call message from the caller to the named callee,
// filling in the caller's identity and the UDP address BindUDPAddress learned
// from the caller's own UDP bootstrap traffic — never the address a client
// might claim for itself. If
// either side's UDP address isn't known yet, the call is bounced straight
// back to the caller as a denial instead of being relayed.
func (t *Table) RouteCall(caller crypto.NetworkedPublicKey, call *model.CallMsg) error {
	callee, ok := t.Get(call.Callee)
	if !ok {
		return errors.Errorf("rendezvous: unknown callee %s", call.Callee)
	}
	callerSession, ok := t.Get(caller)
	if !ok {
		return errors.Errorf("rendezvous: unknown caller %s", caller)
	}
	if callerSession.Addr == nil || callee.Addr == nil {
		bounce := &model.CallResponseMsg{Call: model.CallMsg{Callee: call.Callee, Caller: &caller}, Response: false}
		return writeEncoder(callerSession.Conn, model.CallResponse, bounce, callerSession.Session)
	}
	routed := &model.CallMsg{Callee: call.Callee, Caller: &caller, UDPAddress: callerSession.Addr}
	return writeEncoder(callee.Conn, model.Call, routed, callee.Session)
}

// RouteCallResponse relays the callee's decision back to the caller, replacing
// the echoed UDPAddress (still the caller's own, carried over from the
// original Call) with the callee's own observed address — the same
// fill-in-the-address-of-whoever-we-just-heard-from rule RouteCall applies in
// the other direction, so the caller ends up with the callee's real address
// to punch through to.
func (t *Table) RouteCallResponse(resp *model.CallResponseMsg) error {
	caller := resp.Call.Caller
	if caller == nil {
		return errors.New("rendezvous: call response missing caller")
	}
	callerSession, ok := t.Get(*caller)
	if !ok {
		return errors.Errorf("rendezvous: unknown caller %s", *caller)
	}
	calleeSession, ok := t.Get(resp.Call.Callee)
	if !ok {
		return errors.Errorf("rendezvous: unknown callee %s", resp.Call.Callee)
	}
	routed := *resp
	routed.Call.UDPAddress = calleeSession.Addr
	return writeEncoder(callerSession.Conn, model.CallResponse, &routed, callerSession.Session)
}
