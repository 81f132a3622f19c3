package storage

import "strconv"

// PageSize is the fixed number of items in every paginated response.
const PageSize = 20

// Page is one window of a paginated collection. NextCursor carries the
// opaque cursor of the following window and is empty when no more items
// exist beyond this one.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type (
	BlockPage       = Page[Block]
	TransactionPage = Page[Transaction]
)

// DecodeCursor converts an opaque cursor into an item offset. An absent or
// malformed cursor means the first window.
func DecodeCursor(cursor string) int {
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// EncodeCursor converts an item offset into an opaque cursor.
func EncodeCursor(offset int) string {
	return strconv.Itoa(offset)
}

// NextCursor returns the cursor of the window following a page that
// started at offset.
func NextCursor(offset int) string {
	return EncodeCursor(offset + PageSize)
}

// PageOf slices one window out of an ordered collection. NextCursor is set
// iff strictly more items exist beyond the window.
func PageOf[T any](items []T, offset int) *Page[T] {
	page := &Page[T]{Items: []T{}}
	if offset >= len(items) {
		return page
	}
	end := offset + PageSize
	if end > len(items) {
		end = len(items)
	}
	page.Items = items[offset:end]
	if end < len(items) {
		page.NextCursor = NextCursor(offset)
	}
	return page
}
