package bus

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileBus reads partitioned NDJSON record files from a directory.
//
// Layout: one subdirectory per topic, one file per partition:
//
//	records/
//	  decisions/
//	    0.ndjson
//	    1.ndjson
//
// Each line is one raw envelope; the zero-based line number is the record's
// offset. Blank lines are skipped but still consume an offset, so offsets
// remain stable if a file is edited in place.
//
// Files are read once at open time. FileBus is a static snapshot source for
// CLI ingestion and replay verification, not a tailing consumer.
type FileBus struct {
	records map[string]map[int][]Record
}

// OpenFileBus scans dir and loads every topic/partition file.
func OpenFileBus(dir string) (*FileBus, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open file bus: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open file bus: not a directory: %s", dir)
	}

	fb := &FileBus{records: make(map[string]map[int][]Record)}

	topics, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open file bus: %w", err)
	}
	for _, t := range topics {
		if !t.IsDir() {
			continue
		}
		topic := t.Name()
		if err := fb.loadTopic(dir, topic); err != nil {
			return nil, err
		}
	}

	return fb, nil
}

// loadTopic loads every *.ndjson partition file for one topic.
func (fb *FileBus) loadTopic(dir, topic string) error {
	entries, err := os.ReadDir(filepath.Join(dir, topic))
	if err != nil {
		return fmt.Errorf("load topic %s: %w", topic, err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".ndjson") {
			continue
		}
		partition, err := strconv.Atoi(strings.TrimSuffix(name, ".ndjson"))
		if err != nil {
			return fmt.Errorf("load topic %s: partition file %q is not numeric", topic, name)
		}
		records, err := loadPartitionFile(filepath.Join(dir, topic, name), topic, partition)
		if err != nil {
			return err
		}
		if fb.records[topic] == nil {
			fb.records[topic] = make(map[int][]Record)
		}
		fb.records[topic][partition] = records
	}

	return nil
}

// loadPartitionFile reads one NDJSON file into offset-ordered records.
func loadPartitionFile(path, topic string, partition int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load partition %s/%d: %w", topic, partition, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var line int64
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			records = append(records, Record{
				Topic:      topic,
				Partition:  partition,
				Offset:     line,
				OffsetKind: OffsetKindLine,
				Payload:    []byte(text),
			})
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load partition %s/%d: %w", topic, partition, err)
	}

	return records, nil
}

// Topics lists the topics found in the directory, ascending.
func (fb *FileBus) Topics() []string {
	topics := make([]string, 0, len(fb.records))
	for t := range fb.records {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Partitions lists the partitions present for a topic, ascending.
func (fb *FileBus) Partitions(topic string) ([]int, error) {
	parts := make([]int, 0, len(fb.records[topic]))
	for p := range fb.records[topic] {
		parts = append(parts, p)
	}
	sort.Ints(parts)
	return parts, nil
}

// Read returns up to limit records starting at fromOffset inclusive.
//
// Offsets are line numbers, so fromOffset indexes the file position, not
// the dense record slice: records whose line numbers precede fromOffset are
// skipped even when blank lines left gaps.
func (fb *FileBus) Read(ctx context.Context, topic string, partition int, fromOffset int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fromOffset < 0 {
		return nil, fmt.Errorf("read %s/%d: negative offset %d", topic, partition, fromOffset)
	}

	all := fb.records[topic][partition]
	idx := sort.Search(len(all), func(i int) bool { return all[i].Offset >= fromOffset })

	out := []Record{}
	for _, rec := range all[idx:] {
		if len(out) >= limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}
