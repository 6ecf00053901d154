package wire

import (
	"bytes"
	"encoding/binary"
)

// Wire tags for the reference self-describing encoding (spec §4.B).
const (
	tagInt    byte = 0x01
	tagBool   byte = 0x02
	tagBytes  byte = 0x03
	tagString byte = 0x04
	tagList   byte = 0x05
	tagMap    byte = 0x06
)

// EncodePacket serializes a packet into the reference argument encoding:
// a UTF-8 string (the packet type) followed by a varint argument count and
// each argument's tagged encoding.
func EncodePacket(p Packet) []byte {
	var buf bytes.Buffer
	writeString(&buf, p.Type)
	writeUvarint(&buf, uint64(len(p.Args)))
	for _, a := range p.Args {
		writeValue(&buf, a)
	}
	return buf.Bytes()
}

// Encode serializes a single Value with its tag, for use where a value
// (not a whole packet) needs to round-trip on its own, e.g. capability
// sub-maps.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInt:
		buf.WriteByte(tagInt)
		writeVarint(buf, v.Int)
	case KindBool:
		buf.WriteByte(tagBool)
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindBytes:
		buf.WriteByte(tagBytes)
		writeUvarint(buf, uint64(len(v.Bytes)))
		buf.Write(v.Bytes)
	case KindString:
		buf.WriteByte(tagString)
		writeUvarint(buf, uint64(len(v.Bytes)))
		buf.Write(v.Bytes)
	case KindList:
		buf.WriteByte(tagList)
		writeUvarint(buf, uint64(len(v.List)))
		for _, e := range v.List {
			writeValue(buf, e)
		}
	case KindMap:
		buf.WriteByte(tagMap)
		writeUvarint(buf, uint64(len(v.Map)))
		for k, e := range v.Map {
			writeString(buf, k)
			writeValue(buf, e)
		}
	case KindRaw:
		// Re-emit the original (unrecognized) tag and payload verbatim,
		// so a value neither side understands survives a re-encode.
		buf.WriteByte(v.RawTag)
		writeUvarint(buf, uint64(len(v.Bytes)))
		buf.Write(v.Bytes)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}
