package ingest

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type CoordinatorOptions struct {
	// BatchSize is the number of devices per store write.
	BatchSize int
	// SkipKnownDevices skips devices whose key already has a device row.
	SkipKnownDevices bool
	// MaxTextBytes caps how much of a single text entry is read.
	MaxTextBytes int64
}

// ArchiveResult reports the outcome of one IngestArchive call.
type ArchiveResult struct {
	Path        string
	Filename    string
	UploadID    string
	ContentHash string
	// Status is the final upload status; empty when Skipped.
	Status    string
	Skipped   bool
	Structure StructureType
	Counts    UploadCounts
	// MovedTo is set by Runner when the archive was moved after processing.
	MovedTo string
}

// Coordinator drives one archive at a time through structure analysis,
// device grouping and text extraction, and reports to the Store.
// IngestArchive may be called concurrently for different archives.
type Coordinator struct {
	fs    afero.Fs
	store Store
	dict  *StealerDictionary
	log   logrus.FieldLogger
	opts  CoordinatorOptions
	locks keyedMutex
}

func NewCoordinator(fsys afero.Fs, store Store, dict *StealerDictionary, log logrus.FieldLogger, opts CoordinatorOptions) *Coordinator {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if log == nil {
		log = NewNopLogger()
	}
	if dict == nil {
		dict = NewStealerDictionary(nil)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxTextBytes <= 0 {
		opts.MaxTextBytes = defaultMaxTextBytes
	}
	return &Coordinator{fs: fsys, store: store, dict: dict, log: log, opts: opts}
}

// IngestArchive processes the archive at p end to end. An archive whose
// filename already has a completed upload is skipped without error.
func (c *Coordinator) IngestArchive(ctx context.Context, p string) (*ArchiveResult, error) {
	filename := filepath.Base(p)
	res := &ArchiveResult{Path: p, Filename: filename}
	log := c.log.WithField("archive", filename)

	unlock := c.locks.lock(filename)
	defer unlock()

	sum, size, err := HashFile(c.fs, p)
	if err != nil {
		c.recordFailure(ctx, res, err)
		return res, err
	}
	res.ContentHash = sum

	existing, err := c.store.FindCompletedUpload(ctx, filename)
	if err != nil {
		c.recordFailure(ctx, res, err)
		return res, err
	}
	if existing != nil {
		log.WithField("upload_id", existing.UploadID).Info("archive already ingested, skipping")
		res.Skipped = true
		res.UploadID = existing.UploadID
		return res, nil
	}

	upload := &Upload{
		UploadID:    uuid.NewString(),
		Filename:    filename,
		ContentHash: sum,
		Status:      StatusProcessing,
	}
	if err := c.store.BeginUpload(ctx, upload); err != nil {
		c.recordFailure(ctx, res, err)
		return res, err
	}
	res.UploadID = upload.UploadID
	log = log.WithField("upload_id", upload.UploadID)
	log.WithFields(logrus.Fields{"bytes": size, "sha256": sum}).Info("processing archive")

	counts, structure, err := c.ingest(ctx, log, upload.UploadID, filename, p)
	res.Structure = structure
	if err != nil {
		c.failUpload(ctx, log, res, counts, err)
		return res, err
	}
	outcome := UploadOutcome{Status: StatusCompleted, Structure: structure, Counts: counts}
	if err := c.store.FinishUpload(ctx, upload.UploadID, outcome); err != nil {
		c.failUpload(ctx, log, res, counts, err)
		return res, err
	}
	res.Status = StatusCompleted
	res.Counts = counts
	log.WithFields(logrus.Fields{
		"structure":   structure,
		"devices":     counts.DevicesFound,
		"processed":   counts.DevicesProcessed,
		"skipped":     counts.DevicesSkipped,
		"failed":      counts.DevicesFailed,
		"credentials": counts.CredentialsCount,
		"software":    counts.SoftwareCount,
	}).Info("archive ingested")
	return res, nil
}

func (c *Coordinator) ingest(ctx context.Context, log logrus.FieldLogger, uploadID, filename, p string) (UploadCounts, StructureType, error) {
	var counts UploadCounts

	archive, err := OpenZipArchive(c.fs, p)
	if err != nil {
		return counts, "", err
	}
	defer archive.Close()

	info := AnalyzeStructure(archive.Entries, log)
	grouping := GroupByDevice(archive.Entries, info, log)
	names := grouping.Devices.Names()
	counts.DevicesFound = len(names)
	if len(names) == 0 {
		log.WithField("structure", info.Type).Warn("no devices found in archive")
	}

	known := make(map[string]struct{})
	if c.opts.SkipKnownDevices && len(names) > 0 {
		keys := make([]string, 0, len(names))
		for _, n := range names {
			keys = append(keys, DeviceKey(n))
		}
		if known, err = c.store.KnownDevices(ctx, keys); err != nil {
			return counts, info.Type, err
		}
	}

	batch := &RecordBatch{}
	pending := 0
	flush := func() error {
		if err := c.store.WriteBatch(ctx, batch); err != nil {
			return err
		}
		batch.Reset()
		pending = 0
		return nil
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return counts, info.Type, errors.Wrap(err, "ingestion canceled")
		}
		if c.opts.SkipKnownDevices {
			// case variants of one name share a key; only the first is kept
			key := DeviceKey(name)
			if _, ok := known[key]; ok {
				log.WithField("device", name).Debug("skipping known device")
				counts.DevicesSkipped++
				continue
			}
			known[key] = struct{}{}
		}

		recs, err := c.extractDevice(uploadID, filename, name, grouping.Devices.Entries(name))
		if err != nil {
			var pe *extractPanic
			if errors.As(err, &pe) {
				log.WithField("device", name).WithError(err).Warn("device extraction failed")
				counts.DevicesFailed++
				continue
			}
			return counts, info.Type, err
		}

		counts.DevicesProcessed++
		if recs.hasSystem {
			counts.SystemsCount++
		}
		counts.CredentialsCount += len(recs.credentials)
		counts.SoftwareCount += len(recs.software)
		counts.FilesCount += len(recs.files)

		batch.Devices = append(batch.Devices, recs.device)
		batch.Credentials = append(batch.Credentials, recs.credentials...)
		batch.PasswordStats = append(batch.PasswordStats, recs.passwordStats...)
		batch.Software = append(batch.Software, recs.software...)
		batch.Files = append(batch.Files, recs.files...)
		pending++
		if pending >= c.opts.BatchSize {
			if err := flush(); err != nil {
				return counts, info.Type, err
			}
		}
	}
	if pending > 0 {
		if err := flush(); err != nil {
			return counts, info.Type, err
		}
	}
	return counts, info.Type, nil
}

type deviceRecords struct {
	device        Device
	hasSystem     bool
	credentials   []Credential
	passwordStats []PasswordStat
	software      []Software
	files         []DeviceFile
}

// extractPanic marks a device whose extraction panicked. Only the device is
// dropped; the archive carries on.
type extractPanic struct {
	device string
	value  any
}

func (e *extractPanic) Error() string {
	return fmt.Sprintf("extracting device %s: %v", e.device, e.value)
}

func (c *Coordinator) extractDevice(uploadID, archiveName, device string, entries []ArchiveEntry) (recs *deviceRecords, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs = nil
			err = &extractPanic{device: device, value: r}
		}
	}()

	key := DeviceKey(device)
	recs = &deviceRecords{}
	var sys *SystemRecord
	var creds []CredentialEntry
	var credPaths []string
	var pwStats PasswordStats

	for _, e := range entries {
		recs.files = append(recs.files, DeviceFile{
			DeviceID:    key,
			UploadID:    uploadID,
			FilePath:    sanitizeText(e.Path, 0),
			FileName:    sanitizeText(e.Base(), 512),
			ParentPath:  sanitizeText(path.Dir(strings.TrimRight(e.Path, "/")), 0),
			IsDirectory: e.IsDir,
			FileSize:    int64(e.Size),
		})
		if e.IsDir {
			continue
		}

		kind := classifyFile(e.Base())
		if kind == kindOther || (kind == kindSystem && sys != nil) {
			continue
		}
		text, err := e.ReadText(c.opts.MaxTextBytes)
		if err != nil {
			return nil, errors.Wrapf(err, "device %s", device)
		}
		switch kind {
		case kindSystem:
			r := ExtractSystemRecord(text, c.dict)
			sys = &r
		case kindPasswords:
			pwStats.add(CountPasswordStats(text))
			for _, cr := range ParseCredentialBlocks(text) {
				creds = append(creds, cr)
				credPaths = append(credPaths, e.Path)
			}
		case kindCredentialJSON:
			for _, cr := range ParseCredentialJSON([]byte(text)) {
				creds = append(creds, cr)
				credPaths = append(credPaths, e.Path)
			}
		case kindSoftware:
			source := sanitizeText(e.Base(), 255)
			for _, sw := range ExtractSoftware(text) {
				recs.software = append(recs.software, Software{
					DeviceID:     key,
					UploadID:     uploadID,
					SoftwareName: sanitizeText(sw.Name, 512),
					Version:      sanitizeText(sw.Version, 128),
					SourceFile:   source,
				})
			}
		}
	}

	stealer := UnknownStealer
	if sys != nil {
		stealer = sys.StealerName
	}
	if stealer == UnknownStealer {
		if name, ok := c.dict.Match(archiveName); ok {
			stealer = name
		}
	}

	for i, cr := range creds {
		recs.credentials = append(recs.credentials, Credential{
			DeviceID:    key,
			UploadID:    uploadID,
			URL:         sanitizeText(cr.URL, 0),
			Domain:      sanitizeText(cr.Domain, 500),
			TLD:         sanitizeText(cr.TLD, 50),
			Username:    sanitizeText(cr.Username, 500),
			Password:    sanitizeText(cr.Password, 0),
			Browser:     sanitizeText(cr.Browser, 200),
			StealerName: sanitizeText(stealer, 200),
			FilePath:    sanitizeText(credPaths[i], 0),
		})
	}

	recs.passwordStats = passwordStatRows(key, uploadID, pwStats.PasswordCounts)

	dev := Device{
		DeviceID:         key,
		DeviceName:       sanitizeText(device, 512),
		UploadID:         uploadID,
		StealerName:      sanitizeText(stealer, 200),
		TotalFiles:       len(recs.files),
		TotalCredentials: len(recs.credentials),
		TotalSoftware:    len(recs.software),
		TotalURLs:        pwStats.URLs,
		TotalDomains:     pwStats.Domains,
	}
	if sys != nil {
		recs.hasSystem = true
		dev.Hostname = sanitizeText(sys.Hostname, 255)
		dev.ComputerName = sanitizeText(sys.ComputerName, 255)
		dev.Username = sanitizeText(sys.Username, 255)
		dev.OSVersion = sanitizeText(sys.OSVersion, 255)
		dev.IPAddress = sanitizeText(sys.IPAddress, 64)
		dev.Country = sanitizeText(sys.Country, 64)
		dev.Language = sanitizeText(sys.Language, 128)
		dev.LocalDate = sanitizeText(sys.LocalDate, 128)
		dev.InfectionTime = sanitizeText(sys.InfectionTime, 128)
		dev.Antivirus = sanitizeText(sys.Antivirus, 255)
		dev.HardwareID = sanitizeText(sys.HardwareID, 255)
	}
	recs.device = dev
	return recs, nil
}

// passwordStatRows turns password counts into rows ordered by password.
// Values that only differ in stripped bytes are counted together.
func passwordStatRows(deviceKey, uploadID string, counts map[string]int) []PasswordStat {
	merged := make(map[string]int, len(counts))
	for pw, n := range counts {
		merged[sanitizeText(pw, 0)] += n
	}
	pws := make([]string, 0, len(merged))
	for pw := range merged {
		pws = append(pws, pw)
	}
	sort.Strings(pws)
	rows := make([]PasswordStat, 0, len(pws))
	for _, pw := range pws {
		rows = append(rows, PasswordStat{DeviceID: deviceKey, UploadID: uploadID, Password: pw, Count: merged[pw]})
	}
	return rows
}

// recordFailure stores a failed upload for an archive that failed before its
// own upload row existed (unreadable file, store errors, cancellation).
func (c *Coordinator) recordFailure(ctx context.Context, res *ArchiveResult, cause error) {
	ctx = context.WithoutCancel(ctx)
	u := &Upload{
		UploadID:     uuid.NewString(),
		Filename:     res.Filename,
		ContentHash:  res.ContentHash,
		Status:       StatusFailed,
		ErrorMessage: cause.Error(),
	}
	if err := c.store.BeginUpload(ctx, u); err != nil {
		c.log.WithField("archive", res.Filename).WithError(err).Error("recording failed upload")
		return
	}
	res.UploadID = u.UploadID
	res.Status = StatusFailed
	c.log.WithField("archive", res.Filename).WithError(cause).Error("archive failed before ingestion")
}

// failUpload discards everything written under the upload and marks it failed.
func (c *Coordinator) failUpload(ctx context.Context, log logrus.FieldLogger, res *ArchiveResult, counts UploadCounts, cause error) {
	ctx = context.WithoutCancel(ctx)
	res.Status = StatusFailed
	res.Counts = UploadCounts{DevicesFound: counts.DevicesFound}
	log.WithError(cause).Error("archive ingestion failed, discarding partial records")
	if err := c.store.DiscardUpload(ctx, res.UploadID); err != nil {
		log.WithError(err).Error("discarding partial records")
	}
	outcome := UploadOutcome{Status: StatusFailed, Structure: res.Structure, Counts: res.Counts, Error: cause.Error()}
	if err := c.store.FinishUpload(ctx, res.UploadID, outcome); err != nil {
		log.WithError(err).Error("marking upload failed")
	}
}

// keyedMutex serializes work per key (archive filename).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
