package fetcher

import "github.com/rotisserie/eris"

var (
	// ErrArchiveIntegrity marks an archive that cannot be opened or read.
	ErrArchiveIntegrity = eris.New("archive integrity")

	// ErrUnsafePath marks an archive entry whose path escapes the destination.
	ErrUnsafePath = eris.New("unsafe archive path")

	// ErrSizeLimitExceeded marks an archive whose extracted size went over the cap.
	ErrSizeLimitExceeded = eris.New("extracted size limit exceeded")

	// ErrParseExhausted means no encoding/delimiter combination produced a table.
	ErrParseExhausted = eris.New("no encoding/delimiter combination parsed")
)
