package domain

// FileClass is the extension-based classification used by the Rename
// Service before any naming decision is made.
type FileClass string

const (
	FileVideo    FileClass = "video"
	FileSubtitle FileClass = "subtitle"
	FileOther    FileClass = "other"
)

// SeasonInfo summarises one season discovered by the File Renamer.
type SeasonInfo struct {
	Type        string // e.g. "tv", "special"
	Count       int
	Description string
}

// RenameResult is the full output of the File Renamer (C9) for one torrent
// (or one batch of it).
type RenameResult struct {
	// MainFiles maps original file path -> target relative library path.
	MainFiles map[string]string
	// SkippedFiles are non-main entries (PV, menus, bonuses, etc.).
	SkippedFiles []string
	SeasonsInfo  map[string]SeasonInfo

	Patterns AnimePatterns

	AnimeFullTitle     string
	AnimeCleanTitle    string
	SubtitleGroupName  string
	Season             int
	Category           Category
}

// RenamePlan is the decision produced by the Rename Service (C10) for a
// torrent's file set, annotated with how each entry was decided.
type RenamePlan struct {
	// Entries maps original absolute file path -> target relative library path.
	Entries []RenamePlanEntry
	// NewPatterns is set when the AI fallback path produced a fresh regex
	// bundle that should replace the anime's stored AnimePatterns.
	NewPatterns *AnimePatterns
	Method      RenameMethod
}

type RenameMethod string

const (
	RenameMethodRegex RenameMethod = "regex"
	RenameMethodAI    RenameMethod = "ai"
)

type RenamePlanEntry struct {
	SourcePath string
	TargetRelativePath string
	Class      FileClass
	Skipped    bool
}

// TorrentFile is one file reported by the downloader adapter for a completed torrent.
type TorrentFile struct {
	Name string
	Size int64
}
