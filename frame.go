package websocket

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/xerrors"
)

// opcode represents a WebSocket opcode.
type opcode int

// https://tools.ietf.org/html/rfc6455#section-5.2
const (
	opContinuation opcode = 0
	opText         opcode = 1
	opBinary       opcode = 2
	opClose        opcode = 8
	opPing         opcode = 9
	opPong         opcode = 10
)

// maxControlPayload is the maximum payload size of a control frame as
// mandated by the RFC.
const maxControlPayload = 125

type header struct {
	fin    bool
	rsv1   bool
	rsv2   bool
	rsv3   bool
	opcode opcode

	payloadLength int64

	masked  bool
	maskKey uint32
}

func makeWriteHeaderBuf() []byte {
	return make([]byte, maxHeaderSize)
}

func makeReadHeaderBuf() []byte {
	return make([]byte, maxHeaderSize)
}

// maxHeaderSize is the largest possible size of a WebSocket frame header:
// 1 fin/rsv/opcode byte + 1 mask/length byte + 8 bytes of extended length + 4 bytes of mask key.
const maxHeaderSize = 2 + 8 + 4

func writeHeader(buf []byte, w io.Writer, h header) error {
	buf = buf[:0]

	b0 := byte(h.opcode)
	if h.fin {
		b0 |= 1 << 7
	}
	buf = append(buf, b0)

	var b1 byte
	if h.masked {
		b1 |= 1 << 7
	}

	switch {
	case h.payloadLength > 65535:
		b1 |= 127
		buf = append(buf, b1)
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(h.payloadLength))
		buf = append(buf, lenBuf[:]...)
	case h.payloadLength > 125:
		b1 |= 126
		buf = append(buf, b1)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(h.payloadLength))
		buf = append(buf, lenBuf[:]...)
	default:
		b1 |= byte(h.payloadLength)
		buf = append(buf, b1)
	}

	if h.masked {
		var keyBuf [4]byte
		binary.LittleEndian.PutUint32(keyBuf[:], h.maskKey)
		buf = append(buf, keyBuf[:]...)
	}

	_, err := w.Write(buf)
	if err != nil {
		return xerrors.Errorf("failed to write frame header: %w", err)
	}
	return nil
}

func readHeader(buf []byte, r io.Reader) (header, error) {
	b, err := readBytes(buf[:2], r)
	if err != nil {
		return header{}, xerrors.Errorf("failed to read first two bytes: %w", err)
	}

	var h header
	h.fin = b[0]&(1<<7) != 0
	h.rsv1 = b[0]&(1<<6) != 0
	h.rsv2 = b[0]&(1<<5) != 0
	h.rsv3 = b[0]&(1<<4) != 0

	h.opcode = opcode(b[0] & 0xf)

	h.masked = b[1]&(1<<7) != 0
	payloadLength := b[1] &^ (1 << 7)

	switch {
	case payloadLength > 125:
		switch payloadLength {
		case 126:
			b, err := readBytes(buf[:2], r)
			if err != nil {
				return header{}, xerrors.Errorf("failed to read extended payload length: %w", err)
			}
			h.payloadLength = int64(binary.BigEndian.Uint16(b))
		case 127:
			b, err := readBytes(buf[:8], r)
			if err != nil {
				return header{}, xerrors.Errorf("failed to read extended payload length: %w", err)
			}
			h.payloadLength = int64(binary.BigEndian.Uint64(b))
		default:
			return header{}, fmt.Errorf("invalid payload length byte: %v", payloadLength)
		}
	default:
		h.payloadLength = int64(payloadLength)
	}

	if h.payloadLength < 0 {
		return header{}, xerrors.Errorf("header with negative payload length: %v", h.payloadLength)
	}

	if h.masked {
		b, err := readBytes(buf[:4], r)
		if err != nil {
			return header{}, xerrors.Errorf("failed to read mask key: %w", err)
		}
		h.maskKey = binary.LittleEndian.Uint32(b)
	}

	return h, nil
}

func readBytes(p []byte, r io.Reader) ([]byte, error) {
	_, err := io.ReadFull(r, p)
	if err != nil {
		return nil, err
	}
	return p, nil
}
