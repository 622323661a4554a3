package wire

// MsgEncryption tags which key (if any) a UdpPacket's data was sealed under.
type MsgEncryption uint8

const (
	Unencrypted MsgEncryption = iota
	PublicKey
	SymmetricKey
)

// UdpPacket is the sole structure ever sent on the data-plane UDP socket.
// data is ciphertext for every scheme but Unencrypted; the plaintext it
// conceals begins with a one-byte message-type tag followed by that
// message's encoded body.
type UdpPacket struct {
	Data     []byte
	Reliable bool
	MsgID    uint32
	Upgraded MsgEncryption
}

func (p *UdpPacket) Encode(w *Writer) {
	w.WriteBytes(p.Data)
	w.WriteBool(p.Reliable)
	w.WriteU32(p.MsgID)
	w.WriteU32(uint32(p.Upgraded))
}

func (p *UdpPacket) Decode(r *Reader) error {
	var err error
	if p.Data, err = r.ReadBytes(); err != nil {
		return err
	}
	if p.Reliable, err = r.ReadBool(); err != nil {
		return err
	}
	if p.MsgID, err = r.ReadU32(); err != nil {
		return err
	}
	upgraded, err := r.ReadU32()
	if err != nil {
		return err
	}
	p.Upgraded = MsgEncryption(upgraded)
	return nil
}

// EncodeUDPPacket serialises a UdpPacket into exactly what goes on the wire
// as one UDP datagram.
func EncodeUDPPacket(p *UdpPacket) []byte {
	return Marshal(p)
}

// DecodeUDPPacket parses one UDP datagram into a UdpPacket.
func DecodeUDPPacket(buf []byte) (*UdpPacket, error) {
	p := &UdpPacket{}
	if err := Unmarshal(buf, p); err != nil {
		return nil, err
	}
	return p, nil
}
