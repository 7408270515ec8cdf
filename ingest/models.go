package ingest

import "time"

// Upload status values.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Upload tracks the ingestion of one archive file. Filename + status is the
// duplicate index consulted before an archive is opened.
type Upload struct {
	ID       uint   `gorm:"primaryKey"`
	UploadID string `gorm:"uniqueIndex;size:64"`
	Filename string `gorm:"index:idx_upload_filename_status;size:512"`
	// ContentHash is the SHA-256 of the raw archive bytes.
	ContentHash   string `gorm:"index;size:64"`
	Status        string `gorm:"index:idx_upload_filename_status;size:16"`
	StructureType string `gorm:"size:16"`

	DevicesFound     int
	DevicesProcessed int
	DevicesSkipped   int
	DevicesFailed    int
	SystemsCount     int
	CredentialsCount int
	SoftwareCount    int
	FilesCount       int

	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
	CompletedAt  *time.Time
}

// Device is one infected host found inside an archive, with the fields
// extracted from its system-description file.
type Device struct {
	ID uint `gorm:"primaryKey"`
	// DeviceID is the device correlation key, see DeviceKey.
	DeviceID   string `gorm:"index;size:80"`
	DeviceName string `gorm:"size:512"`
	UploadID   string `gorm:"index;size:64"`

	StealerName   string `gorm:"index;size:200"`
	Hostname      string `gorm:"index;size:255"`
	ComputerName  string `gorm:"size:255"`
	Username      string `gorm:"index;size:255"`
	OSVersion     string `gorm:"size:255"`
	IPAddress     string `gorm:"index;size:64"`
	Country       string `gorm:"index;size:64"`
	Language      string `gorm:"size:128"`
	LocalDate     string `gorm:"size:128"`
	InfectionTime string `gorm:"size:128"`
	Antivirus     string `gorm:"size:255"`
	HardwareID    string `gorm:"index;size:255"`

	TotalFiles       int
	TotalCredentials int
	TotalSoftware    int

	// TotalURLs and TotalDomains count url lines in the password files;
	// domains exclude IPv4 hosts.
	TotalURLs    int `gorm:"column:total_urls"`
	TotalDomains int

	CreatedAt time.Time
}

type Credential struct {
	ID          uint   `gorm:"primaryKey"`
	DeviceID    string `gorm:"index;size:80"`
	UploadID    string `gorm:"index;size:64"`
	URL         string `gorm:"type:text"`
	Domain      string `gorm:"index;size:500"`
	TLD         string `gorm:"size:50"`
	Username    string `gorm:"index;size:500"`
	Password    string `gorm:"type:text"`
	Browser     string `gorm:"size:200"`
	StealerName string `gorm:"index;size:200"`
	FilePath    string `gorm:"type:text"`
	CreatedAt   time.Time
}

type Software struct {
	ID           uint   `gorm:"primaryKey"`
	DeviceID     string `gorm:"index;size:80"`
	UploadID     string `gorm:"index;size:64"`
	SoftwareName string `gorm:"index;size:512"`
	Version      string `gorm:"size:128"`
	SourceFile   string `gorm:"size:255"`
}

// PasswordStat is how often one password occurs in a device's password files.
type PasswordStat struct {
	ID       uint   `gorm:"primaryKey"`
	DeviceID string `gorm:"index;size:80"`
	UploadID string `gorm:"index;size:64"`
	Password string `gorm:"type:text"`
	Count    int
}

// DeviceFile is one entry of a device's file tree.
type DeviceFile struct {
	ID          uint   `gorm:"primaryKey"`
	DeviceID    string `gorm:"index;size:80"`
	UploadID    string `gorm:"index;size:64"`
	FilePath    string `gorm:"type:text"`
	FileName    string `gorm:"size:512"`
	ParentPath  string `gorm:"type:text"`
	IsDirectory bool
	FileSize    int64
}

// RecordBatch is one unit of work handed to the store. It is written in a
// single transaction.
type RecordBatch struct {
	Devices       []Device
	Credentials   []Credential
	PasswordStats []PasswordStat
	Software      []Software
	Files         []DeviceFile
}

func (b *RecordBatch) Empty() bool {
	return len(b.Devices) == 0 && len(b.Credentials) == 0 && len(b.PasswordStats) == 0 &&
		len(b.Software) == 0 && len(b.Files) == 0
}

func (b *RecordBatch) Reset() {
	b.Devices = b.Devices[:0]
	b.Credentials = b.Credentials[:0]
	b.PasswordStats = b.PasswordStats[:0]
	b.Software = b.Software[:0]
	b.Files = b.Files[:0]
}

// UploadOutcome is the final state recorded on an upload row.
type UploadOutcome struct {
	Status    string
	Structure StructureType
	Counts    UploadCounts
	Error     string
}

// UploadCounts are the per-archive totals reported on completion.
type UploadCounts struct {
	DevicesFound     int
	DevicesProcessed int
	DevicesSkipped   int
	DevicesFailed    int
	SystemsCount     int
	CredentialsCount int
	SoftwareCount    int
	FilesCount       int
}
