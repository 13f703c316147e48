package ledger

import "github.com/rotisserie/eris"

var (
	// ErrSchemaMissingField means a source file lacks an identifier or amount
	// column. The whole file is rejected; the run continues.
	ErrSchemaMissingField = eris.New("required column not found")

	// ErrConsolidationWrite means the consolidated table could not be appended
	// to. The table is left at its last good state and the run stops.
	ErrConsolidationWrite = eris.New("consolidated table write failed")
)
