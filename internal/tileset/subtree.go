package tileset

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
)

// Binary subtree file layout: a 24-byte header (magic "subt", version 1,
// JSON chunk length, binary chunk length), the JSON chunk padded to an
// 8-byte boundary with spaces, then the binary chunk padded with zeros.
const (
	subtreeMagic   = 0x74627573 // "subt" little-endian
	subtreeVersion = 1
)

type bufferJSON struct {
	ByteLength int `json:"byteLength"`
}

type bufferViewJSON struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
}

type availabilityJSON struct {
	Bitstream      *int `json:"bitstream,omitempty"`
	AvailableCount int  `json:"availableCount,omitempty"`
	Constant       *int `json:"constant,omitempty"`
}

type subtreeJSON struct {
	Buffers                  []bufferJSON       `json:"buffers,omitempty"`
	BufferViews              []bufferViewJSON   `json:"bufferViews,omitempty"`
	TileAvailability         availabilityJSON   `json:"tileAvailability"`
	ContentAvailability      []availabilityJSON `json:"contentAvailability"`
	ChildSubtreeAvailability availabilityJSON   `json:"childSubtreeAvailability"`
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// encodeAvailability returns the JSON descriptor of b, appending its bytes
// to bin when the bitstream is neither all-zero nor all-one.
func encodeAvailability(b *Bitstream, views *[]bufferViewJSON, bin *[]byte) availabilityJSON {
	zero, one := 0, 1
	switch b.AvailableCount() {
	case 0:
		return availabilityJSON{Constant: &zero}
	case b.Len():
		return availabilityJSON{Constant: &one, AvailableCount: b.AvailableCount()}
	}

	offset := align8(len(*bin))
	for len(*bin) < offset {
		*bin = append(*bin, 0)
	}
	*bin = append(*bin, b.Bytes()...)
	view := len(*views)
	*views = append(*views, bufferViewJSON{
		Buffer:     0,
		ByteOffset: offset,
		ByteLength: len(b.Bytes()),
	})
	return availabilityJSON{Bitstream: &view, AvailableCount: b.AvailableCount()}
}

// Encode serializes the subtree into the binary .subtree format.
func (s *Subtree) Encode() ([]byte, error) {
	var (
		views []bufferViewJSON
		bin   []byte
	)
	doc := subtreeJSON{
		TileAvailability:         encodeAvailability(s.TileAvailability, &views, &bin),
		ContentAvailability:      []availabilityJSON{encodeAvailability(s.ContentAvailability, &views, &bin)},
		ChildSubtreeAvailability: encodeAvailability(s.ChildSubtreeAvailability, &views, &bin),
	}
	for len(bin) < align8(len(bin)) {
		bin = append(bin, 0)
	}
	if len(bin) > 0 {
		doc.Buffers = []bufferJSON{{ByteLength: len(bin)}}
		doc.BufferViews = views
	}

	jsonChunk, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("tileset: encode subtree %s: %w", s.Root, err)
	}
	for len(jsonChunk) < align8(len(jsonChunk)) {
		jsonChunk = append(jsonChunk, ' ')
	}

	var buf bytes.Buffer
	for _, v := range []any{
		uint32(subtreeMagic),
		uint32(subtreeVersion),
		uint64(len(jsonChunk)),
		uint64(len(bin)),
	} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("tileset: encode subtree %s: %w", s.Root, err)
		}
	}
	buf.Write(jsonChunk)
	buf.Write(bin)
	return buf.Bytes(), nil
}

// WriteFile encodes the subtree and writes it to path.
func (s *Subtree) WriteFile(path string) error {
	b, err := s.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o640); err != nil {
		return fmt.Errorf("tileset: write subtree %s: %w", s.Root, err)
	}
	return nil
}
