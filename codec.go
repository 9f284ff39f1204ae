// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evnet

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/smallnest/goframe"
	"github.com/ysyzqq/evnet/buffer"
)

// ICodec frames messages over a connection's byte stream. Decode consumes one
// complete frame from in, or returns nil without consuming anything when the
// frame is still incomplete.
type ICodec interface {
	Encode(buf []byte) ([]byte, error)
	Decode(in *buffer.Buffer) ([]byte, error)
}

// LineBasedFrameCodec splits frames on '\n'.
type LineBasedFrameCodec struct{}

// Encode appends the delimiter.
func (cc *LineBasedFrameCodec) Encode(buf []byte) ([]byte, error) {
	return append(buf, '\n'), nil
}

// Decode returns one line without its delimiter.
func (cc *LineBasedFrameCodec) Decode(in *buffer.Buffer) ([]byte, error) {
	idx := in.FindEOL()
	if idx == -1 {
		return nil, nil
	}
	frame := in.Next(idx + 1)
	return frame[:idx], nil
}

// DelimiterBasedFrameCodec splits frames on a custom delimiter byte.
type DelimiterBasedFrameCodec struct {
	delimiter byte
}

// NewDelimiterBasedFrameCodec instantiates and returns a codec with a specific delimiter.
func NewDelimiterBasedFrameCodec(delimiter byte) *DelimiterBasedFrameCodec {
	return &DelimiterBasedFrameCodec{delimiter}
}

// Encode appends the delimiter.
func (cc *DelimiterBasedFrameCodec) Encode(buf []byte) ([]byte, error) {
	return append(buf, cc.delimiter), nil
}

// Decode returns one frame without its delimiter.
func (cc *DelimiterBasedFrameCodec) Decode(in *buffer.Buffer) ([]byte, error) {
	idx := bytes.IndexByte(in.Peek(), cc.delimiter)
	if idx == -1 {
		return nil, nil
	}
	frame := in.Next(idx + 1)
	return frame[:idx], nil
}

// FixedLengthFrameCodec frames fixed-size messages.
type FixedLengthFrameCodec struct {
	frameLength int
}

// NewFixedLengthFrameCodec instantiates and returns a codec with fixed length.
func NewFixedLengthFrameCodec(frameLength int) *FixedLengthFrameCodec {
	return &FixedLengthFrameCodec{frameLength}
}

// Encode checks the message is exactly one frame long.
func (cc *FixedLengthFrameCodec) Encode(buf []byte) ([]byte, error) {
	if cc.frameLength <= 0 || len(buf)%cc.frameLength != 0 {
		return nil, ErrInvalidFixedLength
	}
	return buf, nil
}

// Decode returns the next frame.
func (cc *FixedLengthFrameCodec) Decode(in *buffer.Buffer) ([]byte, error) {
	if cc.frameLength <= 0 {
		return nil, ErrInvalidFixedLength
	}
	if in.ReadableBytes() < cc.frameLength {
		return nil, nil
	}
	return in.Next(cc.frameLength), nil
}

// LengthFieldBasedFrameCodec frames messages with a length header, configured
// the same way as goframe's length-field frame connections.
type LengthFieldBasedFrameCodec struct {
	encoderConfig goframe.EncoderConfig
	decoderConfig goframe.DecoderConfig
}

// NewLengthFieldBasedFrameCodec instantiates and returns a codec based on the length field.
func NewLengthFieldBasedFrameCodec(ec goframe.EncoderConfig, dc goframe.DecoderConfig) *LengthFieldBasedFrameCodec {
	return &LengthFieldBasedFrameCodec{encoderConfig: ec, decoderConfig: dc}
}

// Encode prepends the length field to buf.
func (cc *LengthFieldBasedFrameCodec) Encode(buf []byte) (out []byte, err error) {
	length := len(buf) + cc.encoderConfig.LengthAdjustment
	if cc.encoderConfig.LengthIncludesLengthFieldLength {
		length += cc.encoderConfig.LengthFieldLength
	}
	if length < 0 {
		return nil, ErrTooLessLength
	}

	switch cc.encoderConfig.LengthFieldLength {
	case 1:
		if length >= 256 {
			return nil, errors.Errorf("length does not fit into a byte: %d", length)
		}
		out = []byte{byte(length)}
	case 2:
		if length >= 65536 {
			return nil, errors.Errorf("length does not fit into a short integer: %d", length)
		}
		out = make([]byte, 2)
		cc.encoderConfig.ByteOrder.PutUint16(out, uint16(length))
	case 3:
		if length >= 16777216 {
			return nil, errors.Errorf("length does not fit into a medium integer: %d", length)
		}
		out = writeUint24(cc.encoderConfig.ByteOrder, length)
	case 4:
		out = make([]byte, 4)
		cc.encoderConfig.ByteOrder.PutUint32(out, uint32(length))
	case 8:
		out = make([]byte, 8)
		cc.encoderConfig.ByteOrder.PutUint64(out, uint64(length))
	default:
		return nil, ErrUnsupportedLength
	}

	out = append(out, buf...)
	return
}

// Decode returns one frame once it is fully buffered, stripping
// InitialBytesToStrip bytes from its front.
func (cc *LengthFieldBasedFrameCodec) Decode(in *buffer.Buffer) ([]byte, error) {
	offset := cc.decoderConfig.LengthFieldOffset
	headerLen := offset + cc.decoderConfig.LengthFieldLength
	data := in.Peek()
	if len(data) < headerLen {
		return nil, nil
	}

	frameLength, err := cc.getUnadjustedFrameLength(data[offset:headerLen])
	if err != nil {
		return nil, err
	}
	msgLength := int(frameLength) + cc.decoderConfig.LengthAdjustment
	if msgLength < 0 {
		return nil, ErrTooLessLength
	}
	// 数据不完整, 等下次可读
	if len(data) < headerLen+msgLength {
		return nil, nil
	}
	frame := in.Next(headerLen + msgLength)
	if strip := cc.decoderConfig.InitialBytesToStrip; strip > 0 {
		if strip > len(frame) {
			return nil, errors.Errorf("strip %d bytes from a %d-byte frame", strip, len(frame))
		}
		frame = frame[strip:]
	}
	return frame, nil
}

func (cc *LengthFieldBasedFrameCodec) getUnadjustedFrameLength(lenBuf []byte) (uint64, error) {
	order := cc.decoderConfig.ByteOrder
	switch cc.decoderConfig.LengthFieldLength {
	case 1:
		return uint64(lenBuf[0]), nil
	case 2:
		return uint64(order.Uint16(lenBuf)), nil
	case 3:
		return readUint24(order, lenBuf), nil
	case 4:
		return uint64(order.Uint32(lenBuf)), nil
	case 8:
		return order.Uint64(lenBuf), nil
	default:
		return 0, ErrUnsupportedLength
	}
}

func readUint24(byteOrder binary.ByteOrder, b []byte) uint64 {
	_ = b[2]
	if byteOrder == binary.LittleEndian {
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16
	}
	return uint64(b[2]) | uint64(b[1])<<8 | uint64(b[0])<<16
}

func writeUint24(byteOrder binary.ByteOrder, v int) []byte {
	b := make([]byte, 3)
	if byteOrder == binary.LittleEndian {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	} else {
		b[2] = byte(v)
		b[1] = byte(v >> 8)
		b[0] = byte(v >> 16)
	}
	return b
}
