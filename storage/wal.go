package storage

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"encoding/binary"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Constants

// Segment files are named by the sequence number of
// their first record so that ordering them equals
// ordering their records.
const walFilePrefix = "wal-"
const walFileSuffix = ".log"

// Upper bound on one encoded record, a plausibility
// guard while scanning possibly damaged files.
const maxRecordSize = 64 * 1024 * 1024

// Structs

// WAL is the wrap-around, segmented write-ahead log of
// update batches. Appends go to the active segment and
// are synced to stable storage before returning, which
// lets the engine durably log a batch before its effects
// are broadcast. Old segments are recycled once a
// snapshot covers them and the configured retention is
// exceeded.
type WAL struct {
	logger      log.Logger
	dir         string
	segmentSize int64
	retention   int
	segments    []segmentInfo
	active      *os.File
	activeSize  int64
}

// segmentInfo describes one on-disk segment file.
type segmentInfo struct {
	path  string
	first uint64
}

// Functions

// OpenWAL opens (or creates) the log directory, repairs
// a torn tail left by a crash and prepares the newest
// segment for appending.
func OpenWAL(logger log.Logger, dir string, segmentSize int64, retention int) (*WAL, error) {

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "creating WAL directory")
	}

	if retention < 1 {
		retention = 1
	}

	wal := &WAL{
		logger:      logger,
		dir:         dir,
		segmentSize: segmentSize,
		retention:   retention,
	}

	if err := wal.findSegments(); err != nil {
		return nil, err
	}

	// A crash can leave a partially written record at the
	// end of the newest segment. Cut it off before append.
	if len(wal.segments) > 0 {

		tail := wal.segments[len(wal.segments)-1]

		if err := repairTail(logger, tail.path); err != nil {
			return nil, err
		}

		active, err := os.OpenFile(tail.path, (os.O_WRONLY | os.O_APPEND), 0600)
		if err != nil {
			return nil, errors.Wrap(err, "opening active WAL segment")
		}

		info, err := active.Stat()
		if err != nil {
			active.Close()
			return nil, errors.Wrap(err, "stat'ing active WAL segment")
		}

		wal.active = active
		wal.activeSize = info.Size()
	}

	return wal, nil
}

// findSegments collects and orders the existing segment
// files of the log directory.
func (wal *WAL) findSegments() error {

	paths, err := filepath.Glob(filepath.Join(wal.dir, walFilePrefix+"*"+walFileSuffix))
	if err != nil {
		return errors.Wrap(err, "globbing for WAL segments")
	}

	segments := make([]segmentInfo, 0, len(paths))

	for _, path := range paths {

		name := filepath.Base(path)
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, walFilePrefix), walFileSuffix)

		first, err := strconv.ParseUint(numPart, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "unexpected WAL segment name %q", name)
		}

		segments = append(segments, segmentInfo{path: path, first: first})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].first < segments[j].first
	})

	wal.segments = segments

	return nil
}

// Append encodes rec, writes it to the active segment and
// syncs it to stable storage. Rotation to a fresh segment
// happens before the write once the active segment has
// grown past the configured size.
func (wal *WAL) Append(rec *Record) error {

	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	if wal.active == nil || wal.activeSize >= wal.segmentSize {

		if err := wal.rotate(rec.Sequence); err != nil {
			return err
		}
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	if _, err := wal.active.Write(prefix[:]); err != nil {
		return errors.Wrap(err, "writing record length to WAL")
	}

	if _, err := wal.active.Write(data); err != nil {
		return errors.Wrap(err, "writing record to WAL")
	}

	// Make sure the record reaches stable storage before
	// its effects leave the replica.
	if err := wal.active.Sync(); err != nil {
		return errors.Wrap(err, "syncing WAL to stable storage")
	}

	wal.activeSize += int64(len(prefix) + len(data))

	return nil
}

// rotate closes the active segment and starts a fresh one
// named after the first sequence it will hold.
func (wal *WAL) rotate(firstSeq uint64) error {

	if wal.active != nil {

		if err := wal.active.Close(); err != nil {
			return errors.Wrap(err, "closing full WAL segment")
		}
		wal.active = nil
	}

	path := filepath.Join(wal.dir, fmt.Sprintf("%s%020d%s", walFilePrefix, firstSeq, walFileSuffix))

	active, err := os.OpenFile(path, (os.O_CREATE | os.O_WRONLY | os.O_APPEND | os.O_EXCL), 0600)
	if err != nil {
		return errors.Wrap(err, "creating fresh WAL segment")
	}

	wal.active = active
	wal.activeSize = 0
	wal.segments = append(wal.segments, segmentInfo{path: path, first: firstSeq})

	return nil
}

// Scan replays every record with a sequence strictly
// greater than fromSeq, oldest first, into fn.
func (wal *WAL) Scan(fromSeq uint64, fn func(*Record) error) error {

	for _, segment := range wal.segments {

		file, err := os.Open(segment.path)
		if err != nil {
			return errors.Wrap(err, "opening WAL segment for scan")
		}

		for {

			data, done, err := readFrame(file)
			if done {
				break
			}
			if err != nil {

				// A torn record can only sit at the very tail
				// of the newest segment; everything behind it
				// was synced completely.
				level.Warn(wal.logger).Log(
					"msg", "stopping WAL scan at damaged record",
					"segment", segment.path,
					"err", err,
				)
				break
			}

			rec, err := DecodeRecord(data)
			if err != nil {
				file.Close()
				return err
			}

			if rec.Sequence <= fromSeq {
				continue
			}

			if err := fn(rec); err != nil {
				file.Close()
				return err
			}
		}

		file.Close()
	}

	return nil
}

// Prune recycles the oldest segments once the retention
// count is exceeded, but only segments whose records are
// all covered by a durable snapshot at coveredSeq.
func (wal *WAL) Prune(coveredSeq uint64) {

	for len(wal.segments) > wal.retention {

		// The successor's first sequence tells us where the
		// oldest segment ends.
		next := wal.segments[1]

		if next.first > coveredSeq+1 {
			break
		}

		oldest := wal.segments[0]

		if err := os.Remove(oldest.path); err != nil {
			level.Warn(wal.logger).Log(
				"msg", "failed to recycle covered WAL segment",
				"segment", oldest.path,
				"err", err,
			)
			break
		}

		level.Debug(wal.logger).Log(
			"msg", "recycled covered WAL segment",
			"segment", oldest.path,
		)

		wal.segments = wal.segments[1:]
	}
}

// Close syncs and closes the active segment.
func (wal *WAL) Close() error {

	if wal.active == nil {
		return nil
	}

	if err := wal.active.Sync(); err != nil {
		wal.active.Close()
		return err
	}

	return wal.active.Close()
}

// repairTail scans one segment file and truncates it
// after the last complete record.
func repairTail(logger log.Logger, path string) error {

	file, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return errors.Wrap(err, "opening WAL segment for repair")
	}
	defer file.Close()

	var good int64

	for {

		data, done, err := readFrame(file)
		if done {
			return nil
		}
		if err != nil {

			level.Warn(logger).Log(
				"msg", "truncating torn record at WAL tail",
				"segment", path,
				"offset", good,
				"err", err,
			)

			return file.Truncate(good)
		}

		good += int64(4 + len(data))
	}
}

// readFrame reads one length-prefixed record from r. The
// done flag signals a clean end of file, any error means
// the data at the current position is torn or damaged.
func readFrame(r io.Reader) ([]byte, bool, error) {

	var prefix [4]byte

	if _, err := io.ReadFull(r, prefix[:]); err != nil {

		if err == io.EOF {
			return nil, true, nil
		}

		return nil, false, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxRecordSize {
		return nil, false, fmt.Errorf("record of %d bytes exceeds maximum of %d bytes", length, maxRecordSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, false, err
	}

	return data, false, nil
}
