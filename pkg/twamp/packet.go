package twamplight

import (
	"encoding/binary"
	"time"
)

// PacketSize is the size of an unauthenticated TWAMP-light test packet: sequence number,
// NTP timestamp (seconds + fraction), and zero padding.
const PacketSize = 48

type Packet struct {
	Seq  uint32
	Sec  uint32
	Frac uint32
}

func NewPacket(seq uint32) *Packet {
	return NewPacketAt(seq, time.Now())
}

func NewPacketAt(seq uint32, t time.Time) *Packet {
	sec, frac := ntpTimestamp(t)
	return &Packet{
		Seq:  seq,
		Sec:  sec,
		Frac: frac,
	}
}

// Time returns the send time carried in the packet.
func (p *Packet) Time() time.Time {
	return ntpTime(p.Sec, p.Frac)
}

// Marshal writes the packet into buf, which must hold at least PacketSize bytes.
func (p *Packet) Marshal(buf []byte) error {
	if len(buf) < PacketSize {
		return ErrInvalidPacket
	}
	binary.BigEndian.PutUint32(buf[0:4], p.Seq)
	binary.BigEndian.PutUint32(buf[4:8], p.Sec)
	binary.BigEndian.PutUint32(buf[8:12], p.Frac)
	clear(buf[12:PacketSize])
	return nil
}

func (p *Packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PacketSize)
	if err := p.Marshal(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalPacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, ErrInvalidPacket
	}
	return &Packet{
		Seq:  binary.BigEndian.Uint32(buf[0:4]),
		Sec:  binary.BigEndian.Uint32(buf[4:8]),
		Frac: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}
