// Package model defines the persistent entities and enums shared by every
// pipeline stage: scan roots, file instances, hashes, unique files, folder
// nodes and copy jobs, plus the small value types (categories, statuses,
// volume types) that travel with them.
package model

import "time"

// HashAlgorithm is the project-wide content hash algorithm. Once a project
// is created the algorithm is immutable for the project's lifetime.
type HashAlgorithm string

const (
	HashSHA1        HashAlgorithm = "SHA1"
	HashSHA256      HashAlgorithm = "SHA256" // default
	HashSHA3_256    HashAlgorithm = "SHA3-256"
	HashSizeAndName HashAlgorithm = "SIZE_NAME" // non-authoritative preview mode
)

// CPUProfile selects how aggressively the hash and copy worker pools scale.
type CPUProfile string

const (
	ProfileEco      CPUProfile = "Eco"
	ProfileBalanced CPUProfile = "Balanced"
	ProfileFast     CPUProfile = "Fast"
	ProfileMax      CPUProfile = "Max"
)

// VolumeType tags the kind of storage a ScanRoot lives on.
type VolumeType string

const (
	VolumeFixed     VolumeType = "Fixed"
	VolumeRemovable VolumeType = "Removable"
	VolumeNetwork   VolumeType = "Network"
	VolumeOptical   VolumeType = "Optical"
	VolumeUnknown   VolumeType = "Unknown"
)

// Category classifies a file for reporting and folder-tree purposes.
type Category string

const (
	CategoryImage    Category = "Image"
	CategoryMovie    Category = "Movie"
	CategoryAudio    Category = "Audio"
	CategoryDocument Category = "Document"
	CategoryArchive  Category = "Archive"
	CategoryOther    Category = "Other"
)

// FileStatus is the pipeline status of a FileInstance.
type FileStatus string

const (
	StatusDiscovered   FileStatus = "Discovered"
	StatusFilteredOut  FileStatus = "FilteredOut"
	StatusHashPending  FileStatus = "HashPending"
	StatusHashed       FileStatus = "Hashed"
	StatusCopyPlanned  FileStatus = "CopyPlanned"
	StatusCopied       FileStatus = "Copied"
	StatusVerified     FileStatus = "Verified"
	StatusError        FileStatus = "Error"
)

// CopyJobStatus is the lifecycle of a CopyJob.
type CopyJobStatus string

const (
	JobPending    CopyJobStatus = "Pending"
	JobInProgress CopyJobStatus = "InProgress"
	JobCopied     CopyJobStatus = "Copied"
	JobVerified   CopyJobStatus = "Verified"
	JobSkipped    CopyJobStatus = "Skipped"
	JobError      CopyJobStatus = "Error"
)

// PipelineState is the orchestrator's state machine value.
type PipelineState string

const (
	StateIdle        PipelineState = "Idle"
	StateScanning    PipelineState = "Scanning"
	StateScanPaused  PipelineState = "ScanPaused"
	StateHashing     PipelineState = "Hashing"
	StateHashPaused  PipelineState = "HashPaused"
	StatePlanning    PipelineState = "Planning"
	StateReadyToCopy PipelineState = "ReadyToCopy"
	StateCopying     PipelineState = "Copying"
	StateCopyPaused  PipelineState = "CopyPaused"
	StateCompleted   PipelineState = "Completed"
	StateFaulted     PipelineState = "Faulted"
)

// ProjectSettings is the single-row configuration table for a project.
type ProjectSettings struct {
	ID                     int64
	ProjectName            string
	HashLevel              HashAlgorithm
	CPUProfile             CPUProfile
	TargetPath             string
	CurrentState           PipelineState
	VerifyByDefault        bool
	ArchiveScanningEnabled bool
	ArchiveMaxSizeMB       int
	ArchiveNestedEnabled   bool
	ArchiveMaxDepth        int
	MovieHashChunkSizeMB   int
	EnabledCategories      []Category
	CreatedUtc             time.Time
	LastModifiedUtc        time.Time
	LastError              string
}

// ScanRoot is a user-chosen source directory.
type ScanRoot struct {
	ID         int64
	Path       string
	Label      string
	RootType   VolumeType
	IsEnabled  bool
	LastScanUtc time.Time
	FileCount  int64
	TotalBytes int64
	AddedUtc   time.Time
}

// FileInstance is one discovered occurrence of a file under a scan root.
type FileInstance struct {
	ID            int64
	ScanRootID    int64
	RelativePath  string
	FileName      string
	Extension     string
	SizeBytes     int64
	ModifiedUtc   time.Time
	Status        FileStatus
	Category      Category
	HashID        *int64
	DiscoveredUtc time.Time
	ErrorMessage  string
}

// Hash is one distinct content fingerprint seen in the project.
type Hash struct {
	ID              int64
	HashAlgorithm   HashAlgorithm
	HashBytes       []byte
	HashHex         string
	SizeBytes       int64
	PartialHashInfo string // JSON, e.g. {"chunkMB":64}; empty for full hashes
	ComputedUtc     time.Time
}

// UniqueFile groups all file instances sharing a Hash.
type UniqueFile struct {
	ID                         int64
	HashID                     int64
	RepresentativeFileInstanceID int64
	FileTypeCategory           Category
	CopyEnabled                bool
	PlannedFolderNodeID        *int64
	PlannedFileName            string
	CopiedUtc                  *time.Time
	VerifiedUtc                *time.Time
	DuplicateCount             int
}

// FolderNode is a node in the proposed destination tree.
type FolderNode struct {
	ID                   int64
	ParentID             *int64
	DisplayName          string
	ProposedRelativePath string
	UserEditedName       string
	CopyEnabled          bool
	UniqueCount          int
	DuplicateCount       int
	TotalSizeBytes       int64
	WhyExplanation       string
}

// CopyJob is one unit of work materializing a UniqueFile at a destination path.
type CopyJob struct {
	ID                  int64
	UniqueFileID        int64
	DestinationFullPath string
	Status              CopyJobStatus
	AttemptCount        int
	LastError           string
	StartedUtc          *time.Time
	CompletedUtc        *time.Time
}
