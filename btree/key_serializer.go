package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// KeySerializer converts keys to and from their fixed size on-disk form. Node
// capacities are derived from Size.
type KeySerializer interface {
	Serialize(key Key) ([]byte, error)
	Deserialize([]byte) (Key, error)
	Size() int
}

type Int64KeySerializer struct{}

func (p *Int64KeySerializer) Serialize(key Key) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := binary.Write(&buf, binary.BigEndian, int64(key.(Int64Key))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Int64KeySerializer) Deserialize(data []byte) (Key, error) {
	reader := bytes.NewReader(data)
	var key int64
	if err := binary.Read(reader, binary.BigEndian, &key); err != nil {
		return nil, err
	}
	return Int64Key(key), nil
}

func (p *Int64KeySerializer) Size() int {
	return 8
}

// StringKeySerializer stores keys as fixed width byte runs, zero padded on the
// right. Keys longer than Len are rejected by Serialize.
type StringKeySerializer struct {
	Len int
}

func (s *StringKeySerializer) Serialize(key Key) ([]byte, error) {
	str := key.(StringKey)
	if len(str) > s.Len {
		return nil, fmt.Errorf("string key is %d bytes, longer than %d", len(str), s.Len)
	}
	res := make([]byte, s.Len)
	copy(res, str)
	return res, nil
}

func (s *StringKeySerializer) Deserialize(data []byte) (Key, error) {
	return StringKey(bytes.TrimRight(data[:s.Len], "\x00")), nil
}

func (s *StringKeySerializer) Size() int {
	return s.Len
}
