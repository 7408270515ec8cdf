package ingest

import "github.com/sirupsen/logrus"

// DeviceBuckets maps device name to that device's entries. It is built once
// by GroupByDevice and read-only afterwards.
type DeviceBuckets struct {
	order   []string
	buckets map[string][]ArchiveEntry
}

// Names returns the device names in order of first appearance.
func (d *DeviceBuckets) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func (d *DeviceBuckets) Entries(device string) []ArchiveEntry {
	return d.buckets[device]
}

func (d *DeviceBuckets) Len() int { return len(d.order) }

// Grouping is the result of partitioning one archive into devices.
type Grouping struct {
	Structure StructureInfo
	Devices   *DeviceBuckets
	// Dropped counts entries that resolved to no device.
	Dropped int
}

type bucketBuilder struct {
	order   []string
	buckets map[string][]ArchiveEntry
}

func (b *bucketBuilder) add(device string, e ArchiveEntry) bool {
	if b.buckets == nil {
		b.buckets = make(map[string][]ArchiveEntry)
	}
	_, exists := b.buckets[device]
	if !exists {
		b.order = append(b.order, device)
	}
	b.buckets[device] = append(b.buckets[device], e)
	return !exists
}

func (b *bucketBuilder) build() *DeviceBuckets {
	if b.buckets == nil {
		b.buckets = make(map[string][]ArchiveEntry)
	}
	return &DeviceBuckets{order: b.order, buckets: b.buckets}
}

// GroupByDevice assigns every entry to at most one device using info.
// Entries without a device are dropped.
func GroupByDevice(entries []ArchiveEntry, info StructureInfo, log logrus.FieldLogger) Grouping {
	if log == nil {
		log = NewNopLogger()
	}
	var b bucketBuilder
	dropped := 0
	for i, e := range entries {
		if (i+1)%1000 == 0 {
			log.WithField("entries", i+1).Debug("grouping progress")
		}
		device := info.DeviceName(e.Segments())
		if device == "" {
			dropped++
			continue
		}
		if b.add(device, e) {
			log.WithField("device", device).Debug("new device detected")
		}
	}
	g := Grouping{Structure: info, Devices: b.build(), Dropped: dropped}
	log.WithFields(logrus.Fields{
		"entries":   len(entries),
		"devices":   g.Devices.Len(),
		"dropped":   dropped,
		"structure": info.Type,
	}).Debug("device grouping complete")
	return g
}
