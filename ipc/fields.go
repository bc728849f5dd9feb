package ipc

import "encoding/binary"

// Record layout per CONTRACT_PIPE.md:
//
//	uint16 field count
//	repeated: uint16 tag | uint32 size | size bytes of value
//
// A list value is a uint32 element count followed by that many nested records.
// Readers skip fields whose tag they do not know by the declared size.

// RecordWriter accumulates tagged fields for one record.
type RecordWriter struct {
	count  uint16
	fields []byte
}

// NewRecordWriter returns an empty record writer.
func NewRecordWriter() *RecordWriter {
	return &RecordWriter{}
}

func (w *RecordWriter) raw(tag uint16, value []byte) {
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], tag)
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(value)))
	w.fields = append(w.fields, hdr[:]...)
	w.fields = append(w.fields, value...)
	w.count++
}

// String writes a string field.
func (w *RecordWriter) String(tag uint16, s string) {
	w.raw(tag, []byte(s))
}

// OptString writes a string field when s is non-nil.
func (w *RecordWriter) OptString(tag uint16, s *string) {
	if s != nil {
		w.String(tag, *s)
	}
}

// Bool writes a one-byte boolean field.
func (w *RecordWriter) Bool(tag uint16, b bool) {
	v := byte(0)
	if b {
		v = 1
	}
	w.raw(tag, []byte{v})
}

// OptBool writes a boolean field when b is non-nil.
func (w *RecordWriter) OptBool(tag uint16, b *bool) {
	if b != nil {
		w.Bool(tag, *b)
	}
}

// Byte writes a single-byte field.
func (w *RecordWriter) Byte(tag uint16, b byte) {
	w.raw(tag, []byte{b})
}

// Int32 writes a big-endian int32 field.
func (w *RecordWriter) Int32(tag uint16, v int32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	w.raw(tag, buf[:])
}

// OptInt32 writes an int32 field when v is non-nil.
func (w *RecordWriter) OptInt32(tag uint16, v *int32) {
	if v != nil {
		w.Int32(tag, *v)
	}
}

// Int64 writes a big-endian int64 field.
func (w *RecordWriter) Int64(tag uint16, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	w.raw(tag, buf[:])
}

// OptInt64 writes an int64 field when v is non-nil.
func (w *RecordWriter) OptInt64(tag uint16, v *int64) {
	if v != nil {
		w.Int64(tag, *v)
	}
}

// List writes a list field of n nested records built by elem.
// Empty lists are omitted.
func (w *RecordWriter) List(tag uint16, n int, elem func(i int, rw *RecordWriter)) {
	if n == 0 {
		return
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	value := append([]byte(nil), buf[:]...)
	for i := range n {
		rw := NewRecordWriter()
		elem(i, rw)
		value = append(value, rw.Bytes()...)
	}
	w.raw(tag, value)
}

// Bytes returns the encoded record.
func (w *RecordWriter) Bytes() []byte {
	out := make([]byte, 2, 2+len(w.fields))
	binary.BigEndian.PutUint16(out, w.count)
	return append(out, w.fields...)
}

// Field is one decoded (tag, value) pair.
type Field struct {
	Tag   uint16
	Value []byte
}

// ReadRecord decodes one record from data, returning its fields in wire
// order and the number of bytes consumed.
func ReadRecord(data []byte) ([]Field, int, error) {
	if len(data) < 2 {
		return nil, 0, malformed("record truncated: missing field count")
	}
	count := int(binary.BigEndian.Uint16(data))
	off := 2
	fields := make([]Field, 0, count)
	for i := range count {
		if len(data)-off < 6 {
			return nil, 0, malformed("field %d of %d truncated: missing header", i+1, count)
		}
		tag := binary.BigEndian.Uint16(data[off:])
		size := binary.BigEndian.Uint32(data[off+2:])
		off += 6
		if uint64(size) > uint64(len(data)-off) {
			return nil, 0, malformed("field tag %d declares %d bytes, %d remain", tag, size, len(data)-off)
		}
		fields = append(fields, Field{Tag: tag, Value: data[off : off+int(size)]})
		off += int(size)
	}
	return fields, off, nil
}

// readRecordExact decodes a record that must span all of data.
func readRecordExact(data []byte) ([]Field, error) {
	fields, n, err := ReadRecord(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, malformed("record has %d trailing bytes", len(data)-n)
	}
	return fields, nil
}

// ReadList decodes a list value into its nested records.
func ReadList(value []byte) ([][]Field, error) {
	if len(value) < 4 {
		return nil, malformed("list truncated: missing element count")
	}
	n := binary.BigEndian.Uint32(value)
	if uint64(n) > uint64(len(value)) {
		return nil, malformed("list declares %d elements in %d bytes", n, len(value))
	}
	off := 4
	out := make([][]Field, 0, n)
	for i := range int(n) {
		fields, used, err := ReadRecord(value[off:])
		if err != nil {
			return nil, malformed("list element %d: %v", i, err)
		}
		out = append(out, fields)
		off += used
	}
	if off != len(value) {
		return nil, malformed("list has %d trailing bytes", len(value)-off)
	}
	return out, nil
}

func fieldString(f Field) string {
	return string(f.Value)
}

func fieldStringPtr(f Field) *string {
	s := string(f.Value)
	return &s
}

func fieldBool(f Field) (bool, error) {
	if len(f.Value) != 1 {
		return false, malformed("tag %d: bool must be 1 byte, got %d", f.Tag, len(f.Value))
	}
	return f.Value[0] != 0, nil
}

func fieldByte(f Field) (byte, error) {
	if len(f.Value) != 1 {
		return 0, malformed("tag %d: byte must be 1 byte, got %d", f.Tag, len(f.Value))
	}
	return f.Value[0], nil
}

func fieldInt32(f Field) (int32, error) {
	if len(f.Value) != 4 {
		return 0, malformed("tag %d: int32 must be 4 bytes, got %d", f.Tag, len(f.Value))
	}
	return int32(binary.BigEndian.Uint32(f.Value)), nil
}

func fieldInt64(f Field) (int64, error) {
	if len(f.Value) != 8 {
		return 0, malformed("tag %d: int64 must be 8 bytes, got %d", f.Tag, len(f.Value))
	}
	return int64(binary.BigEndian.Uint64(f.Value)), nil
}
