// Package rendezvous implements both halves of the TCP control channel
// between a client and the rendezvous broker: the RSA bootstrap followed by
// an AES-GCM-SIV (substituted: AES-GCM, see SPEC_FULL.md) upgrade, and the
// session table the broker keeps to route Call/CallResponse/Disconnect
// traffic between clients it has announced to one another.
package rendezvous

import (
	"io"

	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/wire"
)

// writeEncoder marshals an Encoder and writes it as one TCP frame, optionally
// sealing the payload with sess first. sess is nil only during the RSA
// bootstrap, before a symmetric session exists.
func writeEncoder(w io.Writer, tag model.MsgType, enc wire.Encoder, sess *crypto.SymmetricSession) error {
	payload := wire.Marshal(enc)
	if sess != nil {
		sealed, err := sess.Encrypt(payload)
		if err != nil {
			return errors.Wrap(err, "seal tcp frame")
		}
		payload = sealed
	}
	return wire.WriteFrame(w, byte(tag), payload)
}

// readFrame reads one raw TCP frame, opening it with sess first if given.
func readFrame(r io.Reader, sess *crypto.SymmetricSession) (model.MsgType, []byte, error) {
	tagByte, payload, err := wire.ReadFrame(r)
	if err != nil {
		return 0, nil, err
	}
	if sess != nil {
		opened, err := sess.Decrypt(payload)
		if err != nil {
			return 0, nil, errors.Wrap(err, "open tcp frame")
		}
		payload = opened
	}
	return model.MsgType(tagByte), payload, nil
}

// readDecoder reads one TCP frame and unmarshals it into dec.
func readDecoder(r io.Reader, dec wire.Decoder, sess *crypto.SymmetricSession) (model.MsgType, error) {
	tag, payload, err := readFrame(r, sess)
	if err != nil {
		return 0, err
	}
	if err := wire.Unmarshal(payload, dec); err != nil {
		return 0, errors.Wrap(err, "decode tcp frame")
	}
	return tag, nil
}

// newByTag allocates the concrete decoder for a frame tag read after the
// handshake, by either side: the client's Next for broker->client frames and
// the broker's Table.Next for client->broker frames. Only the message types
// that travel the control link after the handshake are handled; anything
// else is a protocol violation.
func newByTag(tag model.MsgType) (wire.Decoder, error) {
	switch tag {
	case model.Announce:
		return &model.AnnouncePublic{}, nil
	case model.Call:
		return &model.CallMsg{}, nil
	case model.CallResponse:
		return &model.CallResponseMsg{}, nil
	case model.Disconnect:
		return &model.DisconnectMsg{}, nil
	case model.KeepAlive:
		return &model.KeepAliveMsg{}, nil
	default:
		return nil, errors.Errorf("rendezvous: unexpected frame tag %v", tag)
	}
}

// readAny reads one frame and decodes it using newByTag.
func readAny(r io.Reader, sess *crypto.SymmetricSession) (model.MsgType, wire.Decoder, error) {
	tag, payload, err := readFrame(r, sess)
	if err != nil {
		return 0, nil, err
	}
	dec, err := newByTag(tag)
	if err != nil {
		return 0, nil, err
	}
	if err := wire.Unmarshal(payload, dec); err != nil {
		return 0, nil, errors.Wrap(err, "decode tcp frame")
	}
	return tag, dec, nil
}
