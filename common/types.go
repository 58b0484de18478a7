package common

// PageID identifies a physical page in the database file. Page ids are
// 4 bytes everywhere they are stored on disk.
type PageID uint32

const (
	// InvalidPageID marks an empty page slot or a missing link. Page 0 is the
	// disk manager's private header, so it can double as the invalid id.
	InvalidPageID PageID = 0

	// HeaderPageID is the reserved page that keeps index name to root page id
	// records. It exists in every database file.
	HeaderPageID PageID = 1

	// PageIDSize is the on-disk width of a PageID.
	PageIDSize = 4
)
