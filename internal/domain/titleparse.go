package domain

// TitleParseResult is the typed result of the Title Parser (C8). Downstream
// code never sees an untyped map — only this struct.
type TitleParseResult struct {
	OriginalTitle string
	CleanTitle    string
	FullTitle     string
	SubtitleGroup string
	Season        int // default 1
	Episode       *int
	Category      Category
}
