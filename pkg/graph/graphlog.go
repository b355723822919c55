package graph

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"

	"github.com/velesdb/velesdb/pkg/compression"
)

// Sentinel errors for the graph operation log.
var (
	ErrLogIo               = errors.New("graph: log io error")
	ErrLogChecksumMismatch = errors.New("graph: log checksum mismatch")
)

type opKind byte

const (
	opDictEntry opKind = iota + 1
	opAddNode
	opAddEdge
	opDeleteNode
)

const logHeaderSize = 4 + 1 // length + kind

// Log is the append-only operation log backing one graph collection:
// every AddNode/AddEdge/DeleteNode call is recorded as
// [length | kind | body | crc32], mirroring the payload log's
// crash-recovery discipline. Node and edge type strings are folded
// through a Dictionary so a repeated type tag costs 4 bytes instead of
// its full string on every record after the first.
type Log struct {
	path string
	file *os.File

	writerMu sync.Mutex
	offset   int64

	dict *compression.Dictionary
}

// OpenLog opens or creates the operation log at path. It does not
// replay any existing content; call Replay separately once the
// in-memory Store is ready to receive it.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ErrLogIo
	}
	l := &Log{path: path, file: f, dict: compression.NewDictionary()}
	if off, err := l.scanToEnd(); err != nil {
		f.Close()
		return nil, err
	} else {
		l.offset = off
	}
	return l, nil
}

// scanToEnd walks every record once to find the true end of the log
// (truncating any torn tail from a crash mid-append) and to prime the
// writer-side dictionary so AppendAddNode/AppendAddEdge keep assigning
// codes starting after whatever the log already holds.
func (l *Log) scanToEnd() (int64, error) {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return 0, ErrLogIo
	}
	var off int64
	for {
		kind, body, recLen, ok, err := readLogRecordAt(l.file, off)
		if err != nil {
			return 0, ErrLogIo
		}
		if !ok {
			break
		}
		if kind == opDictEntry {
			_, s, err := decodeDictEntryBody(body)
			if err != nil {
				break
			}
			l.dict.Encode([]byte(s))
		}
		off += recLen
	}
	if info, err := l.file.Stat(); err == nil && info.Size() != off {
		if err := l.file.Truncate(off); err != nil {
			return 0, ErrLogIo
		}
	}
	return off, nil
}

// readLogRecordAt reads one full record at off, validating length
// bounds and CRC. ok=false, err=nil means "nothing more to recover
// here" (a short read or a torn/corrupt tail).
func readLogRecordAt(f *os.File, off int64) (opKind, []byte, int64, bool, error) {
	header := make([]byte, logHeaderSize)
	n, err := f.ReadAt(header, off)
	if err != nil && err != io.EOF {
		return 0, nil, 0, false, err
	}
	if n < logHeaderSize {
		return 0, nil, 0, false, nil
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	kind := opKind(header[4])

	bodyOff := off + logHeaderSize
	body := make([]byte, length)
	if length > 0 {
		n, err := f.ReadAt(body, bodyOff)
		if err != nil && err != io.EOF {
			return 0, nil, 0, false, err
		}
		if n < int(length) {
			return 0, nil, 0, false, nil
		}
	}

	crcOff := bodyOff + int64(length)
	crcBuf := make([]byte, 4)
	n, err = f.ReadAt(crcBuf, crcOff)
	if err != nil && err != io.EOF {
		return 0, nil, 0, false, err
	}
	if n < 4 {
		return 0, nil, 0, false, nil
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf)

	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(body)
	if crc.Sum32() != wantCRC {
		return 0, nil, 0, false, nil
	}

	totalLen := logHeaderSize + int64(length) + 4
	return kind, body, totalLen, true, nil
}

func encodeLogRecord(kind opKind, body []byte) []byte {
	buf := make([]byte, logHeaderSize+len(body)+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	buf[4] = byte(kind)
	copy(buf[logHeaderSize:], body)
	crc := crc32.ChecksumIEEE(buf[:logHeaderSize+len(body)])
	binary.LittleEndian.PutUint32(buf[logHeaderSize+len(body):], crc)
	return buf
}

func (l *Log) appendLocked(kind opKind, body []byte) error {
	buf := encodeLogRecord(kind, body)
	n, err := l.file.WriteAt(buf, l.offset)
	if err != nil || n != len(buf) {
		return ErrLogIo
	}
	l.offset += int64(len(buf))
	return nil
}

// encodeType folds typ through the writer-side dictionary, emitting a
// dict-entry record first if this is the first time typ is seen.
func (l *Log) encodeType(typ string) (uint32, error) {
	before := l.dict.Len()
	code := l.dict.Encode([]byte(typ))
	if l.dict.Len() > before {
		if err := l.appendLocked(opDictEntry, encodeDictEntryBody(code, typ)); err != nil {
			return 0, err
		}
	}
	return code, nil
}

func encodeDictEntryBody(code uint32, s string) []byte {
	buf := make([]byte, 4+2+len(s))
	binary.LittleEndian.PutUint32(buf[0:4], code)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(s)))
	copy(buf[6:], s)
	return buf
}

func decodeDictEntryBody(b []byte) (uint32, string, error) {
	if len(b) < 6 {
		return 0, "", ErrLogChecksumMismatch
	}
	code := binary.LittleEndian.Uint32(b[0:4])
	strLen := int(binary.LittleEndian.Uint16(b[4:6]))
	if len(b) < 6+strLen {
		return 0, "", ErrLogChecksumMismatch
	}
	return code, string(b[6 : 6+strLen]), nil
}

func encodeAddNodeBody(n *Node, typeCode uint32, propsJSON []byte) []byte {
	buf := make([]byte, 8+4+1+8+4+len(propsJSON))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(n.ID))
	binary.LittleEndian.PutUint32(buf[8:12], typeCode)
	if n.HasVector {
		buf[12] = 1
	}
	binary.LittleEndian.PutUint64(buf[13:21], uint64(n.VectorID))
	binary.LittleEndian.PutUint32(buf[21:25], uint32(len(propsJSON)))
	copy(buf[25:], propsJSON)
	return buf
}

func decodeAddNodeBody(b []byte) (id int64, typeCode uint32, hasVector bool, vectorID int64, props []byte, err error) {
	if len(b) < 25 {
		return 0, 0, false, 0, nil, ErrLogChecksumMismatch
	}
	id = int64(binary.LittleEndian.Uint64(b[0:8]))
	typeCode = binary.LittleEndian.Uint32(b[8:12])
	hasVector = b[12] != 0
	vectorID = int64(binary.LittleEndian.Uint64(b[13:21]))
	propsLen := int(binary.LittleEndian.Uint32(b[21:25]))
	if len(b) < 25+propsLen {
		return 0, 0, false, 0, nil, ErrLogChecksumMismatch
	}
	return id, typeCode, hasVector, vectorID, b[25 : 25+propsLen], nil
}

func encodeAddEdgeBody(e *Edge, typeCode uint32, propsJSON []byte) []byte {
	buf := make([]byte, 8+8+8+4+8+4+len(propsJSON))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.From))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.To))
	binary.LittleEndian.PutUint32(buf[24:28], typeCode)
	binary.LittleEndian.PutUint64(buf[28:36], math.Float64bits(e.Weight))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(len(propsJSON)))
	copy(buf[40:], propsJSON)
	return buf
}

func decodeAddEdgeBody(b []byte) (id, from, to int64, typeCode uint32, weight float64, props []byte, err error) {
	if len(b) < 40 {
		return 0, 0, 0, 0, 0, nil, ErrLogChecksumMismatch
	}
	id = int64(binary.LittleEndian.Uint64(b[0:8]))
	from = int64(binary.LittleEndian.Uint64(b[8:16]))
	to = int64(binary.LittleEndian.Uint64(b[16:24]))
	typeCode = binary.LittleEndian.Uint32(b[24:28])
	weight = math.Float64frombits(binary.LittleEndian.Uint64(b[28:36]))
	propsLen := int(binary.LittleEndian.Uint32(b[36:40]))
	if len(b) < 40+propsLen {
		return 0, 0, 0, 0, 0, nil, ErrLogChecksumMismatch
	}
	return id, from, to, typeCode, weight, b[40 : 40+propsLen], nil
}

// AppendAddNode records n's creation.
func (l *Log) AppendAddNode(n *Node) error {
	l.writerMu.Lock()
	defer l.writerMu.Unlock()

	code, err := l.encodeType(n.Type)
	if err != nil {
		return err
	}
	props, err := json.Marshal(n.Properties)
	if err != nil {
		return fmt.Errorf("graph: marshal node properties: %w", err)
	}
	return l.appendLocked(opAddNode, encodeAddNodeBody(n, code, props))
}

// AppendAddEdge records e's creation.
func (l *Log) AppendAddEdge(e *Edge) error {
	l.writerMu.Lock()
	defer l.writerMu.Unlock()

	code, err := l.encodeType(e.Type)
	if err != nil {
		return err
	}
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("graph: marshal edge properties: %w", err)
	}
	return l.appendLocked(opAddEdge, encodeAddEdgeBody(e, code, props))
}

// AppendDeleteNode records id's deletion.
func (l *Log) AppendDeleteNode(id int64) error {
	l.writerMu.Lock()
	defer l.writerMu.Unlock()

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return l.appendLocked(opDeleteNode, buf)
}

// Replay reads every record from the start of the log and applies it
// directly to s's in-memory state, bypassing persistence (the records
// being replayed are themselves what s.log would otherwise append).
// It is meant to run once, right after OpenLog, before the Store is
// attached to the log via AttachLog.
func (l *Log) Replay(s *Store) error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return ErrLogIo
	}
	readDict := compression.NewDictionary()
	var off int64
	for {
		kind, body, recLen, ok, err := readLogRecordAt(l.file, off)
		if err != nil {
			return ErrLogIo
		}
		if !ok {
			break
		}
		switch kind {
		case opDictEntry:
			_, str, err := decodeDictEntryBody(body)
			if err != nil {
				return ErrLogChecksumMismatch
			}
			readDict.Encode([]byte(str))
		case opAddNode:
			id, typeCode, hasVector, vectorID, propsRaw, err := decodeAddNodeBody(body)
			if err != nil {
				return ErrLogChecksumMismatch
			}
			typ, ok := readDict.Decode(typeCode)
			if !ok {
				return ErrLogChecksumMismatch
			}
			var props map[string]any
			if len(propsRaw) > 0 {
				if err := json.Unmarshal(propsRaw, &props); err != nil {
					return fmt.Errorf("graph: decode node properties: %w", err)
				}
			}
			s.addNodeRaw(&Node{ID: id, Type: string(typ), Properties: props, HasVector: hasVector, VectorID: vectorID})
		case opAddEdge:
			id, from, to, typeCode, weight, propsRaw, err := decodeAddEdgeBody(body)
			if err != nil {
				return ErrLogChecksumMismatch
			}
			typ, ok := readDict.Decode(typeCode)
			if !ok {
				return ErrLogChecksumMismatch
			}
			var props map[string]any
			if len(propsRaw) > 0 {
				if err := json.Unmarshal(propsRaw, &props); err != nil {
					return fmt.Errorf("graph: decode edge properties: %w", err)
				}
			}
			_ = s.addEdgeRaw(&Edge{ID: id, From: from, To: to, Type: string(typ), Weight: weight, Properties: props})
		case opDeleteNode:
			if len(body) < 8 {
				return ErrLogChecksumMismatch
			}
			id := int64(binary.LittleEndian.Uint64(body[0:8]))
			_ = s.deleteNodeRaw(id)
		}
		off += recLen
	}
	return nil
}

// Flush fsyncs the log file.
func (l *Log) Flush() error {
	l.writerMu.Lock()
	defer l.writerMu.Unlock()
	if err := l.file.Sync(); err != nil {
		return ErrLogIo
	}
	return nil
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	_ = l.Flush()
	return l.file.Close()
}
