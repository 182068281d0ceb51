// Package storage implements the reliable-arm persistence layer: a
// fixed-capacity ring buffer backed by shared memory (or a temp file
// fallback) and a set of StorageWriter backends that drain it to disk,
// console, or a message broker.
package storage

import (
	"encoding/binary"
	"errors"
	"os"
	"runtime"
	"sync"

	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
)

// RingBuffer is a fixed-capacity byte log of length-prefixed serialized
// Measurement records. It is backed by a regular file under /dev/shm on
// Linux (falling back to os.TempDir() elsewhere or if /dev/shm is
// unavailable) so that a crash of the writer goroutine does not lose
// buffered-but-unflushed records.
//
// RingBuffer tracks the backing file and its write/read offsets, and
// accesses the file with positioned WriteAt/ReadAt calls; the file is not
// memory-mapped. The file is closed by Close. It is safe for
// concurrent Append callers serialized by a single Tee goroutine, but
// Close must not race with Append.
type RingBuffer struct {
	mu       sync.Mutex
	file     *os.File
	capacity int64
	written  int64
	read     int64
	pending  int64 // bytes written but not yet claimed by DrainNew
	path     string
}

// ErrBufferFull is returned by Append when the ring buffer has wrapped
// and the caller's record would overwrite unread data; callers treat
// this the same as any other reliable-arm failure (count and drop).
var ErrBufferFull = errors.New("storage: ring buffer capacity exceeded")

// shmDir returns the preferred backing directory: /dev/shm on Linux when
// present and writable, os.TempDir() otherwise.
func shmDir() string {
	if runtime.GOOS == "linux" {
		if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
			return "/dev/shm"
		}
	}
	return os.TempDir()
}

// NewRingBuffer creates (or truncates) a backing file named name under
// the platform's shared-memory directory, sized to capacityBytes.
func NewRingBuffer(name string, capacityBytes int64) (*RingBuffer, error) {
	if capacityBytes <= 0 {
		capacityBytes = 64 << 20 // 64 MiB default
	}
	path := shmDir() + "/" + name + ".ringbuf"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(capacityBytes); err != nil {
		f.Close()
		return nil, err
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"path": path, "capacity_bytes": capacityBytes,
	}).Info("ring buffer backing file opened")
	return &RingBuffer{file: f, capacity: capacityBytes, path: path}, nil
}

// AppendMeasurement serializes m and appends it via Append: the record
// wraps to the start of the file when it does not fit at the end, and
// ErrBufferFull is returned instead of overwriting data DrainNew has not
// claimed yet.
func (r *RingBuffer) AppendMeasurement(m *measurement.Measurement) error {
	payload, err := measurement.Encode(m)
	if err != nil {
		return err
	}
	return r.Append(payload)
}

// Append writes a length-prefixed record, wrapping as needed. It refuses
// to write — returning ErrBufferFull rather than silently clobbering
// unread bytes — whenever the disk writer has fallen behind far enough
// that this record would land on data DrainNew hasn't claimed yet.
func (r *RingBuffer) Append(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	recLen := int64(4 + len(payload))
	if recLen > r.capacity {
		return ErrBufferFull
	}
	if r.pending+recLen > r.capacity {
		return ErrBufferFull
	}
	offset := r.written % r.capacity
	if offset+recLen > r.capacity {
		offset = 0
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := r.file.WriteAt(header, offset); err != nil {
		return err
	}
	if _, err := r.file.WriteAt(payload, offset+4); err != nil {
		return err
	}
	r.written = offset + recLen
	r.pending += recLen
	return nil
}

// Path returns the backing file's path, for diagnostics.
func (r *RingBuffer) Path() string { return r.path }

// DrainNew returns every record appended since the last DrainNew call, in
// append order, decoded into Measurements. It is meant to be called from
// a single background disk-writer goroutine on a fixed cadence. Reads
// release the bytes they cover back to pending so a writer that has
// caught up can use the freed space again; Append itself is what refuses
// to overwrite bytes DrainNew hasn't claimed yet, by returning
// ErrBufferFull — a wraparound that would lose unread data never
// happens, it's declined up front and counted as a drop at the call site.
func (r *RingBuffer) DrainNew() []*measurement.Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == 0 {
		return nil
	}

	var out []*measurement.Measurement
	var consumed int64
	offset := r.read % r.capacity
	for {
		header := make([]byte, 4)
		if _, err := r.file.ReadAt(header, offset); err != nil {
			break
		}
		n := int64(binary.BigEndian.Uint32(header))
		if n == 0 || offset+4+n > r.capacity {
			consumed += r.capacity - offset
			offset = 0
			continue
		}
		payload := make([]byte, n)
		if _, err := r.file.ReadAt(payload, offset+4); err != nil {
			break
		}
		m, err := measurement.Decode(payload)
		if err == nil {
			out = append(out, m)
		}
		offset += 4 + n
		consumed += 4 + n
		if offset == r.written {
			break
		}
		if offset >= r.capacity {
			offset = 0
		}
	}
	r.read = r.written
	r.pending -= consumed
	if r.pending < 0 {
		r.pending = 0
	}
	return out
}

// Close releases the backing file. The file is removed since ring
// buffer contents are not meant to survive past the writer draining
// them; durable storage is the StorageWriter's job, not the buffer's.
func (r *RingBuffer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	path := r.path
	err := r.file.Close()
	os.Remove(path)
	return err
}
