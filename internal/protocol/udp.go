package protocol

import (
	"encoding/binary"
	"fmt"
)

// UDP frames carry a MediaCall using a small little-endian,
// length-prefixed binary encoding (spec.md §6: "a stable little-endian
// length-prefixed encoding"). No serialization library in the example pack
// this module was grounded on covers an ad-hoc binary frame like this one
// (see DESIGN.md), so it is hand-rolled on encoding/binary — deliberately
// minimal: just enough fields for the relay (C8) to resolve a destination
// and for media endpoints to reconstruct the MediaCall.
func EncodeMediaCallUDP(c MediaCall) []byte {
	buf := make([]byte, 0, 128+len(c.Message)+len(c.Nonce))
	buf = appendLenPrefixed(buf, []byte(c.UUID))
	buf = appendLenPrefixed(buf, c.Message)
	buf = appendLenPrefixed(buf, c.Nonce)
	buf = appendLenPrefixed(buf, []byte(c.Sides.Sender))
	buf = appendLenPrefixed(buf, []byte(c.Sides.Receiver))
	buf = appendLenPrefixed(buf, []byte(c.Peers.Sender))
	buf = appendLenPrefixed(buf, []byte(c.Peers.Receiver))
	buf = append(buf, boolByte(c.Secret), boolByte(c.Accepted))
	var tsBytes [8]byte
	binary.LittleEndian.PutUint64(tsBytes[:], uint64(c.CreatedAt))
	buf = append(buf, tsBytes[:]...)
	return buf
}

// DecodeMediaCallUDP parses a buffer produced by EncodeMediaCallUDP.
func DecodeMediaCallUDP(buf []byte) (MediaCall, error) {
	var c MediaCall
	rest := buf

	uuidBytes, rest, err := readLenPrefixed(rest)
	if err != nil {
		return c, fmt.Errorf("%w: uuid: %v", ErrUDPParse, err)
	}
	c.UUID = string(uuidBytes)

	c.Message, rest, err = readLenPrefixed(rest)
	if err != nil {
		return c, fmt.Errorf("%w: message: %v", ErrUDPParse, err)
	}
	c.Nonce, rest, err = readLenPrefixed(rest)
	if err != nil {
		return c, fmt.Errorf("%w: nonce: %v", ErrUDPParse, err)
	}

	senderBytes, rest, err := readLenPrefixed(rest)
	if err != nil {
		return c, fmt.Errorf("%w: sender: %v", ErrUDPParse, err)
	}
	c.Sides.Sender = string(senderBytes)

	receiverBytes, rest, err := readLenPrefixed(rest)
	if err != nil {
		return c, fmt.Errorf("%w: receiver: %v", ErrUDPParse, err)
	}
	c.Sides.Receiver = string(receiverBytes)

	peerSenderBytes, rest, err := readLenPrefixed(rest)
	if err != nil {
		return c, fmt.Errorf("%w: peers.sender: %v", ErrUDPParse, err)
	}
	c.Peers.Sender = string(peerSenderBytes)

	peerReceiverBytes, rest, err := readLenPrefixed(rest)
	if err != nil {
		return c, fmt.Errorf("%w: peers.receiver: %v", ErrUDPParse, err)
	}
	c.Peers.Receiver = string(peerReceiverBytes)

	if len(rest) < 2+8 {
		return c, fmt.Errorf("%w: truncated trailer", ErrUDPParse)
	}
	c.Secret = rest[0] != 0
	c.Accepted = rest[1] != 0
	c.CreatedAt = int64(binary.LittleEndian.Uint64(rest[2:10]))
	return c, nil
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(field)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, field...)
}

func readLenPrefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, fmt.Errorf("truncated field")
	}
	return buf[:n], buf[n:], nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
