package aiclient

import (
	"encoding/json"
	"fmt"

	"github.com/1morr/anidown/internal/domain"
)

// TitleParseSchema validates the title-parse purpose's response shape.
type TitleParseSchema struct{}

func (TitleParseSchema) Name() string { return "title_parse_result" }

func (TitleParseSchema) Validate(raw []byte) (any, error) {
	var body struct {
		OriginalTitle string `json:"original_title"`
		CleanTitle    string `json:"clean_title"`
		FullTitle     string `json:"full_title"`
		SubtitleGroup string `json:"subtitle_group"`
		Season        *int   `json:"season"`
		Episode       *int   `json:"episode"`
		Category      string `json:"category"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode title_parse_result: %w", err)
	}
	if body.CleanTitle == "" {
		return nil, fmt.Errorf("title_parse_result: clean_title required")
	}
	if body.Category != string(domain.CategoryTV) && body.Category != string(domain.CategoryMovie) {
		return nil, fmt.Errorf("title_parse_result: category must be tv or movie, got %q", body.Category)
	}
	season := 1
	if body.Season != nil {
		if *body.Season < 0 {
			return nil, fmt.Errorf("title_parse_result: season must be >= 0")
		}
		season = *body.Season
	}
	return domain.TitleParseResult{
		OriginalTitle: body.OriginalTitle,
		CleanTitle:    body.CleanTitle,
		FullTitle:     body.FullTitle,
		SubtitleGroup: body.SubtitleGroup,
		Season:        season,
		Episode:       body.Episode,
		Category:      domain.Category(body.Category),
	}, nil
}

// MultiFileRenameSchema validates the multi-file-rename purpose's response shape.
type MultiFileRenameSchema struct{}

func (MultiFileRenameSchema) Name() string { return "multi_file_rename_response" }

type multiFileRenameBody struct {
	MainFiles    map[string]string            `json:"main_files"`
	SkippedFiles []string                      `json:"skipped_files"`
	SeasonsInfo  map[string]domain.SeasonInfo  `json:"seasons_info"`
	Patterns     struct {
		SubtitleGroupRegex string `json:"subtitle_group"`
		FullTitleRegex     string `json:"full_title"`
		CleanTitleRegex    string `json:"clean_title"`
		EpisodeRegex       string `json:"episode"`
		SpecialTagRegex    string `json:"special_tag"`
		QualityRegex       string `json:"quality"`
		PlatformRegex      string `json:"platform"`
		SourceRegex        string `json:"source"`
		CodecRegex         string `json:"codec"`
		SubtitleTypeRegex  string `json:"subtitle_type"`
		FormatRegex        string `json:"format"`
	} `json:"patterns"`
	AnimeFullTitle    string `json:"anime_full_title"`
	AnimeCleanTitle   string `json:"anime_clean_title"`
	SubtitleGroupName string `json:"subtitle_group_name"`
	Season            int    `json:"season"`
	Category          string `json:"category"`
}

func (MultiFileRenameSchema) Validate(raw []byte) (any, error) {
	var body multiFileRenameBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode multi_file_rename_response: %w", err)
	}
	if len(body.MainFiles) == 0 {
		return nil, fmt.Errorf("multi_file_rename_response: main_files must be non-empty")
	}
	if body.Category != string(domain.CategoryTV) && body.Category != string(domain.CategoryMovie) {
		return nil, fmt.Errorf("multi_file_rename_response: category must be tv or movie, got %q", body.Category)
	}
	return domain.RenameResult{
		MainFiles:    body.MainFiles,
		SkippedFiles: body.SkippedFiles,
		SeasonsInfo:  body.SeasonsInfo,
		Patterns: domain.AnimePatterns{
			SubtitleGroupRegex: body.Patterns.SubtitleGroupRegex,
			FullTitleRegex:     body.Patterns.FullTitleRegex,
			CleanTitleRegex:    body.Patterns.CleanTitleRegex,
			EpisodeRegex:       body.Patterns.EpisodeRegex,
			SpecialTagRegex:    body.Patterns.SpecialTagRegex,
			QualityRegex:       body.Patterns.QualityRegex,
			PlatformRegex:      body.Patterns.PlatformRegex,
			SourceRegex:        body.Patterns.SourceRegex,
			CodecRegex:         body.Patterns.CodecRegex,
			SubtitleTypeRegex:  body.Patterns.SubtitleTypeRegex,
			FormatRegex:        body.Patterns.FormatRegex,
		},
		AnimeFullTitle:    body.AnimeFullTitle,
		AnimeCleanTitle:   body.AnimeCleanTitle,
		SubtitleGroupName: body.SubtitleGroupName,
		Season:            body.Season,
		Category:          domain.Category(body.Category),
	}, nil
}

// SubtitleMatchSchema validates the subtitle-match purpose's response shape:
// a mapping of video file path -> matched subtitle file path (or empty when
// no confident match exists).
type SubtitleMatchSchema struct{}

func (SubtitleMatchSchema) Name() string { return "subtitle_match_response" }

type SubtitleMatchResult struct {
	Matches map[string]string `json:"matches"`
}

func (SubtitleMatchSchema) Validate(raw []byte) (any, error) {
	var body SubtitleMatchResult
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode subtitle_match_response: %w", err)
	}
	if body.Matches == nil {
		return nil, fmt.Errorf("subtitle_match_response: matches field required")
	}
	return body, nil
}
