// Package storage owns the single backing file: the page-aligned file
// header, the dense vector zone, and the raw byte window past it that
// the graph layer treats as its own zone. It holds the exclusive OS file
// lock for the lifetime of the handle and is the only package that calls
// mmap/munmap/msync directly.
package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"unsafe"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/chassisdb/chassis/internal/chassiserr"
)

const (
	pageSize = 4096

	// HeaderSize is exactly one page, leaving room for future header
	// fields without disturbing alignment.
	HeaderSize = pageSize

	// VectorZoneStart is the first byte of the dense vector array.
	VectorZoneStart = HeaderSize

	// GraphZoneStart is the fixed offset of the graph zone. The file is
	// sparse between the end of the vector zone and here, so this costs
	// no disk until the graph layer actually writes into it.
	GraphZoneStart = 1 << 30

	// MaxVectorZoneBytes bounds how large the vector zone may grow
	// before it would collide with the graph zone.
	MaxVectorZoneBytes = GraphZoneStart - VectorZoneStart
)

var magic = [8]byte{'C', 'H', 'A', 'S', 'S', 'I', 'S', 0}

const formatVersion = uint32(1)

// header field byte offsets within the first page.
const (
	offMagic      = 0
	offVersion    = 8
	offDimensions = 12
	offCount      = 20
)

// Storage is the mmap-backed container for one chassis file. All mutating
// operations require the caller to already hold whatever coarser lock the
// facade uses; Storage itself only protects its own mapping pointer.
type Storage struct {
	mu   sync.RWMutex
	file *os.File
	lock *flock.Flock
	path string
	dims uint32
	data []byte // current mmap window, length is a multiple of pageSize
}

// Open creates the file if absent (writing a fresh header) or validates
// an existing one's magic, version, and dimensions. It acquires the
// exclusive advisory lock non-blocking: a second Open on the same path
// fails fast with ErrAlreadyOpen.
func Open(path string, dims uint32) (*Storage, error) {
	if dims == 0 || dims > 4096 {
		return nil, fmt.Errorf("dimensions %d out of range: %w", dims, chassiserr.ErrInvalidArgument)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock on %s: %v: %w", path, err, chassiserr.ErrIO)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, chassiserr.ErrAlreadyOpen)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening %s: %v: %w", path, err, chassiserr.ErrIO)
	}

	s := &Storage{file: file, lock: lock, path: path, dims: dims}

	info, err := file.Stat()
	if err != nil {
		s.closeAfterFailedOpen()
		return nil, fmt.Errorf("stat %s: %v: %w", path, err, chassiserr.ErrIO)
	}

	if info.Size() == 0 {
		if err := s.initFresh(dims); err != nil {
			s.closeAfterFailedOpen()
			return nil, err
		}
		return s, nil
	}

	if err := s.mapExisting(info.Size()); err != nil {
		s.closeAfterFailedOpen()
		return nil, err
	}
	if err := s.validateHeader(dims); err != nil {
		s.closeAfterFailedOpen()
		return nil, err
	}
	return s, nil
}

func (s *Storage) closeAfterFailedOpen() {
	if s.data != nil {
		unix.Munmap(s.data)
	}
	if s.file != nil {
		s.file.Close()
	}
	if s.lock != nil {
		s.lock.Unlock()
	}
}

func (s *Storage) initFresh(dims uint32) error {
	if err := s.file.Truncate(HeaderSize); err != nil {
		return fmt.Errorf("truncating new file %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, HeaderSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	s.data = data
	copy(s.data[offMagic:offMagic+8], magic[:])
	binary.LittleEndian.PutUint32(s.data[offVersion:], formatVersion)
	binary.LittleEndian.PutUint32(s.data[offDimensions:], dims)
	binary.LittleEndian.PutUint64(s.data[offCount:], 0)
	return nil
}

func (s *Storage) mapExisting(size int64) error {
	if size < HeaderSize {
		return fmt.Errorf("%s: truncated header: %w", s.path, chassiserr.ErrCorruption)
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	s.data = data
	return nil
}

func (s *Storage) validateHeader(wantDims uint32) error {
	if string(s.data[offMagic:offMagic+8]) != string(magic[:]) {
		return fmt.Errorf("%s: bad magic: %w", s.path, chassiserr.ErrCorruption)
	}
	if v := binary.LittleEndian.Uint32(s.data[offVersion:]); v != formatVersion {
		return fmt.Errorf("%s: version %d unsupported: %w", s.path, v, chassiserr.ErrCorruption)
	}
	gotDims := binary.LittleEndian.Uint32(s.data[offDimensions:])
	if gotDims != wantDims {
		return fmt.Errorf("%s: dimensions %d does not match requested %d: %w", s.path, gotDims, wantDims, chassiserr.ErrCorruption)
	}
	s.dims = gotDims
	return nil
}

// Dimensions returns the fixed vector width for this file.
func (s *Storage) Dimensions() uint32 {
	return s.dims
}

// Count returns the durable vector count from the file header.
func (s *Storage) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked()
}

func (s *Storage) countLocked() uint64 {
	return binary.LittleEndian.Uint64(s.data[offCount:])
}

func (s *Storage) setCountLocked(n uint64) {
	binary.LittleEndian.PutUint64(s.data[offCount:], n)
}

// Insert appends vector to the vector zone and publishes it by
// incrementing the header count; it becomes durable at the next Commit.
// Vector bytes are written before the count is advanced, so a crash
// between the two leaves the count unchanged and the insert rolled back.
func (s *Storage) Insert(vector []float32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(len(vector)) != s.dims {
		return 0, fmt.Errorf("vector length %d does not match dimensions %d: %w", len(vector), s.dims, chassiserr.ErrInvalidArgument)
	}

	id := s.countLocked()
	stride := int64(s.dims) * 4
	offset := int64(VectorZoneStart) + int64(id)*stride
	required := offset + stride

	if required-VectorZoneStart > MaxVectorZoneBytes {
		return 0, fmt.Errorf("%w", chassiserr.ErrCapacityExceeded)
	}

	if err := s.ensureMappedSizeLocked(required); err != nil {
		return 0, err
	}

	dst := s.data[offset : offset+stride]
	for i, f := range vector {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}

	s.setCountLocked(id + 1)
	return id, nil
}

// GetVectorSlice returns a borrowed view of dims float32s directly into
// the mmap. The returned slice must not be retained across any call that
// grows the mapping (Insert, EnsureGraphCapacity): those invalidate it.
func (s *Storage) GetVectorSlice(id uint64) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id >= s.countLocked() {
		return nil, fmt.Errorf("vector id %d out of range: %w", id, chassiserr.ErrInvalidArgument)
	}
	stride := int64(s.dims) * 4
	offset := int64(VectorZoneStart) + int64(id)*stride
	raw := s.data[offset : offset+stride]
	return bytesToFloat32Slice(raw), nil
}

// GetVector returns an owned copy of vector id, safe to retain across
// mutations.
func (s *Storage) GetVector(id uint64) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= s.countLocked() {
		return nil, fmt.Errorf("vector id %d out of range: %w", id, chassiserr.ErrInvalidArgument)
	}
	stride := int(s.dims) * 4
	offset := int64(VectorZoneStart) + int64(id)*int64(stride)
	raw := s.data[offset : int64(offset)+int64(stride)]
	out := make([]float32, s.dims)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// TruncateLogical rolls the header count back to n without shrinking the
// file. Used for ghost-node recovery: n is the graph's published node
// count, which may be less than the storage count after a crash.
func (s *Storage) TruncateLogical(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.countLocked() {
		return fmt.Errorf("truncate target %d exceeds current count %d: %w", n, s.countLocked(), chassiserr.ErrInvariantViolation)
	}
	s.setCountLocked(n)
	return nil
}

// GraphZone returns a borrowed read view of length bytes starting at
// offset within the graph zone (offset is relative to GraphZoneStart).
func (s *Storage) GraphZone(offset, length int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graphZoneLocked(offset, length)
}

// GraphZoneMut returns a borrowed mutable view of length bytes starting
// at offset within the graph zone. Caller must already hold whatever
// exclusivity the facade requires for writers.
func (s *Storage) GraphZoneMut(offset, length int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphZoneLocked(offset, length)
}

func (s *Storage) graphZoneLocked(offset, length int64) ([]byte, error) {
	start := int64(GraphZoneStart) + offset
	end := start + length
	if end > int64(len(s.data)) {
		return nil, fmt.Errorf("graph zone range [%d,%d) beyond mapped size %d: %w", start, end, len(s.data), chassiserr.ErrInvariantViolation)
	}
	return s.data[start:end], nil
}

// EnsureGraphCapacity grows the file/mapping so that the graph zone is
// at least requiredEnd bytes long (relative to GraphZoneStart),
// page-aligned. Any borrowed slice obtained before this call must not be
// used afterward.
func (s *Storage) EnsureGraphCapacity(requiredEnd int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureMappedSizeLocked(int64(GraphZoneStart) + requiredEnd)
}

func (s *Storage) ensureMappedSizeLocked(required int64) error {
	if required <= int64(len(s.data)) {
		return nil
	}
	newSize := alignPage(required)
	if err := s.file.Truncate(newSize); err != nil {
		return fmt.Errorf("growing %s to %d bytes: %v: %w", s.path, newSize, err, chassiserr.ErrIO)
	}
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("unmapping %s during growth: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("remapping %s to %d bytes: %v: %w", s.path, newSize, err, chassiserr.ErrIO)
	}
	s.data = data
	return nil
}

func alignPage(n int64) int64 {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// Commit is the sole durability barrier: flush the mapping to the page
// cache, then fsync. Go's os.File.Sync already issues the combined
// data+metadata fsync the platform exposes, so there is no separate
// metadata-only step to call out here.
func (s *Storage) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	return nil
}

// Close unmaps the file, releases the exclusive lock, and closes the
// underlying descriptor.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if err := unix.Munmap(s.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("munmap %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	if err := s.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("releasing lock on %s: %v: %w", s.path, err, chassiserr.ErrIO)
	}
	return firstErr
}

// bytesToFloat32Slice reinterprets a byte slice backed by the mmap as a
// float32 slice with no copy. Alignment is guaranteed by construction:
// HeaderSize is a 4096-byte page and every vector stride is a multiple
// of 4, so every vector offset is 4-byte aligned. The returned slice's
// lifetime is tied to raw and must not outlive a mapping growth.
func bytesToFloat32Slice(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), len(raw)/4)
}
