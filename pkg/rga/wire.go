package rga

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeOp renders an Op as an opaque binary frame: a one-byte kind tag
// followed by length-prefixed fields. Callers must treat the result as
// opaque; the layout is free to change between versions since it never
// crosses a compatibility boundary on its own (it travels inside a
// pkg/wire doc_update envelope that is itself versioned).
func EncodeOp(op Op) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(op.Kind))
	writeID(&buf, op.ID)
	writeID(&buf, op.After)
	if op.Kind == OpInsert {
		var rbuf [binary.MaxVarintLen32]byte
		n := binary.PutVarint(rbuf[:], int64(op.Value))
		buf.Write(rbuf[:n])
	}
	return buf.Bytes()
}

// DecodeOp parses a frame produced by EncodeOp.
func DecodeOp(b []byte) (Op, error) {
	r := bytes.NewReader(b)
	kindByte, err := r.ReadByte()
	if err != nil {
		return Op{}, fmt.Errorf("rga: decode op kind: %w", err)
	}
	kind := OpKind(kindByte)
	if kind != OpInsert && kind != OpDelete {
		return Op{}, fmt.Errorf("rga: unknown op kind %d", kind)
	}
	id, err := readID(r)
	if err != nil {
		return Op{}, fmt.Errorf("rga: decode op id: %w", err)
	}
	after, err := readID(r)
	if err != nil {
		return Op{}, fmt.Errorf("rga: decode op after: %w", err)
	}
	op := Op{Kind: kind, ID: id, After: after}
	if kind == OpInsert {
		v, err := binary.ReadVarint(r)
		if err != nil {
			return Op{}, fmt.Errorf("rga: decode op value: %w", err)
		}
		op.Value = rune(v)
	}
	return op, nil
}

func writeID(buf *bytes.Buffer, id ID) {
	var lbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lbuf[:], uint64(len(id.Actor)))
	buf.Write(lbuf[:n])
	buf.WriteString(id.Actor)
	n = binary.PutUvarint(lbuf[:], id.Counter)
	buf.Write(lbuf[:n])
}

func readID(r *bytes.Reader) (ID, error) {
	actorLen, err := binary.ReadUvarint(r)
	if err != nil {
		return ID{}, err
	}
	actor := make([]byte, actorLen)
	if _, err := r.Read(actor); err != nil && actorLen > 0 {
		return ID{}, err
	}
	counter, err := binary.ReadUvarint(r)
	if err != nil {
		return ID{}, err
	}
	return ID{Actor: string(actor), Counter: counter}, nil
}

// EncodeOps frames a sequence of ops as a count-prefixed, length-prefixed
// concatenation of EncodeOp frames.
func EncodeOps(ops []Op) []byte {
	var buf bytes.Buffer
	var cbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(cbuf[:], uint64(len(ops)))
	buf.Write(cbuf[:n])
	for _, op := range ops {
		frame := EncodeOp(op)
		n := binary.PutUvarint(cbuf[:], uint64(len(frame)))
		buf.Write(cbuf[:n])
		buf.Write(frame)
	}
	return buf.Bytes()
}

// DecodeOps parses a frame produced by EncodeOps.
func DecodeOps(b []byte) ([]Op, error) {
	r := bytes.NewReader(b)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("rga: decode ops count: %w", err)
	}
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		flen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("rga: decode ops frame length: %w", err)
		}
		frame := make([]byte, flen)
		if _, err := r.Read(frame); err != nil {
			return nil, fmt.Errorf("rga: decode ops frame: %w", err)
		}
		op, err := DecodeOp(frame)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
