// Package message defines the wire message exchanged between bitswap
// peers: a want-list delta (or full snapshot) plus a set of pushed blocks.
// The wire format is opaque to callers outside this package (§6 of the
// design document); ToNet/FromNet below are one concrete realization of
// it, framed the way libp2p's own stream protocols frame messages.
package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	cid "github.com/ipfs/go-cid"
	varint "github.com/multiformats/go-varint"

	"github.com/meshgrid/bitswap/blocks"
)

// maxMessageSize guards FromNet against a malicious or corrupt length
// header asking for an unreasonable allocation.
const maxMessageSize = 4 << 20

// Entry is a single want-list item carried on the wire.
type Entry struct {
	Key      blocks.BlockKey
	Priority int32
	Cancel   bool
}

// Message is the BitSwapMessage the core exchanges. Full=true means
// "replaces your knowledge of my want-list"; Full=false is a delta.
type Message interface {
	Full() bool
	SetFull(full bool)

	Wantlist() []Entry
	AddEntry(key blocks.BlockKey, priority int32)
	Cancel(key blocks.BlockKey)

	Blocks() []*blocks.Block
	AddBlock(b *blocks.Block)
	ClearBlocks()

	Empty() bool

	ToNet(w io.Writer) error
}

type message struct {
	full     bool
	wantlist map[string]Entry
	blks     map[string]*blocks.Block
}

// New returns an empty message, full or delta per the caller's intent.
func New(full bool) Message {
	return &message{
		full:     full,
		wantlist: make(map[string]Entry),
		blks:     make(map[string]*blocks.Block),
	}
}

func (m *message) Full() bool        { return m.full }
func (m *message) SetFull(full bool) { m.full = full }

func (m *message) Wantlist() []Entry {
	out := make([]Entry, 0, len(m.wantlist))
	for _, e := range m.wantlist {
		out = append(out, e)
	}
	return out
}

func (m *message) AddEntry(key blocks.BlockKey, priority int32) {
	m.wantlist[key.KeyString()] = Entry{Key: key, Priority: priority}
}

func (m *message) Cancel(key blocks.BlockKey) {
	m.wantlist[key.KeyString()] = Entry{Key: key, Cancel: true}
}

func (m *message) Blocks() []*blocks.Block {
	out := make([]*blocks.Block, 0, len(m.blks))
	for _, b := range m.blks {
		out = append(out, b)
	}
	return out
}

func (m *message) AddBlock(b *blocks.Block) {
	m.blks[b.Key().KeyString()] = b
}

func (m *message) ClearBlocks() {
	m.blks = make(map[string]*blocks.Block)
}

func (m *message) Empty() bool {
	return len(m.wantlist) == 0 && len(m.blks) == 0
}

// ToNet writes a varint-length-prefixed frame: [full byte][entry
// count][entries...][block count][blocks...]. An entry is a
// length-prefixed key, a 4-byte big-endian priority and a cancel byte; a
// block is a length-prefixed key followed by length-prefixed data, so
// FromNet can read exact byte ranges without guessing at field boundaries.
func (m *message) ToNet(w io.Writer) error {
	var body bytes.Buffer

	if m.full {
		body.WriteByte(1)
	} else {
		body.WriteByte(0)
	}

	wl := m.Wantlist()
	writeUvarint(&body, uint64(len(wl)))
	for _, e := range wl {
		writeBytes(&body, e.Key.Bytes())
		var prio [4]byte
		binary.BigEndian.PutUint32(prio[:], uint32(e.Priority))
		body.Write(prio[:])
		if e.Cancel {
			body.WriteByte(1)
		} else {
			body.WriteByte(0)
		}
	}

	blks := m.Blocks()
	writeUvarint(&body, uint64(len(blks)))
	for _, b := range blks {
		writeBytes(&body, b.Key().Bytes())
		writeBytes(&body, b.RawData())
	}

	frame := varint.ToUvarint(uint64(body.Len()))
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// FromNet reads a single message written by ToNet.
func FromNet(r io.Reader) (Message, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReaderWrapper{r}
	}
	size, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("reading message frame length: %w", err)
	}
	if size > maxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds max %d", size, maxMessageSize)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}

	body := bytes.NewReader(buf)
	fullByte, err := body.ReadByte()
	if err != nil {
		return nil, err
	}

	m := New(fullByte == 1).(*message)

	entryCount, err := binary.ReadUvarint(body)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < entryCount; i++ {
		keyBytes, err := readBytes(body)
		if err != nil {
			return nil, err
		}
		key, err := cid.Cast(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("decoding entry key: %w", err)
		}
		var prioBuf [4]byte
		if _, err := io.ReadFull(body, prioBuf[:]); err != nil {
			return nil, err
		}
		cancelByte, err := body.ReadByte()
		if err != nil {
			return nil, err
		}
		m.wantlist[key.KeyString()] = Entry{
			Key:      key,
			Priority: int32(binary.BigEndian.Uint32(prioBuf[:])),
			Cancel:   cancelByte == 1,
		}
	}

	blockCount, err := binary.ReadUvarint(body)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < blockCount; i++ {
		keyBytes, err := readBytes(body)
		if err != nil {
			return nil, err
		}
		key, err := cid.Cast(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("decoding block key: %w", err)
		}
		data, err := readBytes(body)
		if err != nil {
			return nil, err
		}
		m.blks[key.KeyString()] = blocks.NewBlockWithKey(key, data)
	}

	return m, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type byteReaderWrapper struct {
	io.Reader
}

func (b *byteReaderWrapper) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.Reader, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
