// Package broker runs the rendezvous process: a TCP accept loop handing each
// connection through the bootstrap handshake, then routing Call,
// CallResponse and Disconnect frames between whichever clients have
// announced, plus a UDP listener that learns each client's punch-through
// endpoint from its bootstrap Announce datagrams. No file transfers, no
// multicast — one goroutine per accepted TCP connection plus one UDP read
// loop, all feeding a shared session table.
package broker

import (
	"net"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/rendezvous"
	"github.com/botiapa/p2pthing/internal/wire"
)

// Server is the rendezvous broker: one long-lived RSA identity and a table
// of announced client sessions.
type Server struct {
	Keys  *crypto.KeyPair
	table *rendezvous.Table

	listener net.Listener
	udpConn  *net.UDPConn
}

// New generates the broker's identity and binds its TCP listener plus the
// UDP socket clients bootstrap their punch-through endpoint against, both on
// addr, per spec.md §6 ("broker binds 0.0.0.0:$PORT on both TCP and UDP").
func New(addr string) (*Server, error) {
	keys, err := crypto.NewKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "generate broker identity")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen tcp")
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "resolve udp addr")
	}
	udpConn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "listen udp")
	}
	return &Server{
		Keys:     keys,
		table:    rendezvous.NewTable(),
		listener: ln,
		udpConn:  udpConn,
	}, nil
}

// Addr returns the bound TCP listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Run accepts connections until the listener is closed.
func (s *Server) Run() error {
	color.Green("rendezvous broker listening on %s", s.listener.Addr())
	go s.serveUDP()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting new TCP connections and releases the UDP socket.
func (s *Server) Close() error {
	s.udpConn.Close()
	return s.listener.Close()
}

// serveUDP learns each announced client's punch-through endpoint: per
// spec.md §4.4, a client repeatedly sends an unencrypted Announce{public_key}
// datagram every second until this binds the observed source address to that
// key in the session table, acknowledged here with a bare KeepAlive so the
// client can enter Connected and throttle back to its normal keep-alive rate.
func (s *Server) serveUDP() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet, err := wire.DecodeUDPPacket(buf[:n])
		if err != nil || packet.Upgraded != wire.Unencrypted || len(packet.Data) == 0 {
			continue
		}
		if model.MsgType(packet.Data[0]) != model.Announce {
			continue
		}
		var pub model.AnnouncePublic
		if err := wire.Unmarshal(packet.Data[1:], &pub); err != nil {
			continue
		}
		if !s.table.BindUDPAddress(pub.PublicKey, addr) {
			continue // not yet announced over TCP; ignore until it is
		}
		ack := wire.EncodeUDPPacket(&wire.UdpPacket{
			Data:     []byte{byte(model.KeepAlive)},
			Upgraded: wire.Unencrypted,
		})
		s.udpConn.WriteToUDP(ack, addr)
	}
}

// serveConn runs the bootstrap handshake for one connection, then reads
// frames from it until it errors out or is closed, routing each one through
// the session table.
func (s *Server) serveConn(conn net.Conn) {
	sess, _, err := s.table.Accept(conn, s.Keys)
	if err != nil {
		color.Yellow("rendezvous: handshake failed from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	color.Green("rendezvous: %s announced from %s", sess.Key, conn.RemoteAddr())

	defer func() {
		conn.Close()
		if key, ok := s.table.Remove(conn); ok {
			s.table.BroadcastDisconnect(key)
			color.Yellow("rendezvous: %s disconnected", key)
		}
	}()

	for {
		tag, body, err := s.table.Next(sess)
		if err != nil {
			return
		}
		switch tag {
		case model.Call:
			call := body.(*model.CallMsg)
			if err := s.table.RouteCall(sess.Key, call); err != nil {
				color.Yellow("rendezvous: route call from %s: %v", sess.Key, err)
			}
		case model.CallResponse:
			resp := body.(*model.CallResponseMsg)
			if err := s.table.RouteCallResponse(resp); err != nil {
				color.Yellow("rendezvous: route call response for %s: %v", sess.Key, err)
			}
		default:
			// KeepAlive and any frame with no broker-side effect; ignore.
		}
	}
}
