package btree

import (
	"encoding/binary"
	"errors"
)

// SchemaVersion is the stable version byte every serialized .idx file
// starts with (spec §6: "a single serialized graph with a stable
// schema version byte at the start").
const SchemaVersion uint8 = 1

// ErrUnsupportedSchema is returned by Deserialize when the leading
// version byte does not match SchemaVersion.
var ErrUnsupportedSchema = errors.New("btree: unsupported schema version")

// ErrCorrupt is returned by Deserialize on a malformed buffer.
var ErrCorrupt = errors.New("btree: corrupt serialized tree")

// Serialize encodes the whole tree as a single depth-first graph:
// version byte, order, distinct count, then the recursively encoded
// root node.
func (t *Tree) Serialize() []byte {
	buf := []byte{SchemaVersion}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.order))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.distinct))
	buf = encodeNode(buf, t.root)
	return buf
}

func encodeNode(buf []byte, n *node) []byte {
	if n.leaf {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.keys)))
	for i, k := range n.keys {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		if n.leaf {
			rows := n.rowSets[i]
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rows)))
			for id := range rows {
				buf = binary.LittleEndian.AppendUint64(buf, id)
			}
		}
	}
	if !n.leaf {
		for _, c := range n.children {
			buf = encodeNode(buf, c)
		}
	}
	return buf
}

// Deserialize reconstructs a Tree from a buffer produced by
// Serialize, using cmp as the key comparator (comparators are not
// themselves serializable, so the caller must supply the same one
// used to build the tree).
func Deserialize(data []byte, cmp Comparator) (*Tree, error) {
	if len(data) < 1 || data[0] != SchemaVersion {
		return nil, ErrUnsupportedSchema
	}
	rest := data[1:]
	if len(rest) < 8 {
		return nil, ErrCorrupt
	}
	order := binary.LittleEndian.Uint32(rest[0:4])
	distinct := binary.LittleEndian.Uint32(rest[4:8])
	rest = rest[8:]

	root, rest, err := decodeNode(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, ErrCorrupt
	}

	if cmp == nil {
		cmp = BytewiseComparator
	}
	return &Tree{
		root:     root,
		order:    int(order),
		minDeg:   (int(order) + 1) / 2,
		cmp:      cmp,
		distinct: int(distinct),
	}, nil
}

func decodeNode(buf []byte) (*node, []byte, error) {
	if len(buf) < 5 {
		return nil, nil, ErrCorrupt
	}
	leaf := buf[0] == 1
	count := binary.LittleEndian.Uint32(buf[1:5])
	buf = buf[5:]

	n := &node{leaf: leaf}
	for i := uint32(0); i < count; i++ {
		if len(buf) < 2 {
			return nil, nil, ErrCorrupt
		}
		keyLen := binary.LittleEndian.Uint16(buf[0:2])
		buf = buf[2:]
		if len(buf) < int(keyLen) {
			return nil, nil, ErrCorrupt
		}
		key := append([]byte{}, buf[:keyLen]...)
		buf = buf[keyLen:]
		n.keys = append(n.keys, key)

		if leaf {
			if len(buf) < 4 {
				return nil, nil, ErrCorrupt
			}
			rowCount := binary.LittleEndian.Uint32(buf[0:4])
			buf = buf[4:]
			set := make(map[uint64]struct{}, rowCount)
			for j := uint32(0); j < rowCount; j++ {
				if len(buf) < 8 {
					return nil, nil, ErrCorrupt
				}
				set[binary.LittleEndian.Uint64(buf[0:8])] = struct{}{}
				buf = buf[8:]
			}
			n.rowSets = append(n.rowSets, set)
		}
	}

	if !leaf {
		for i := uint32(0); i <= count; i++ {
			var child *node
			var err error
			child, buf, err = decodeNode(buf)
			if err != nil {
				return nil, nil, err
			}
			n.children = append(n.children, child)
		}
	}

	return n, buf, nil
}
