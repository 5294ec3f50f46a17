package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Validate rejects cursors that could not have come from a previous page.
func (p Params) Validate() error {
	_, err := ParseCursor(p.Cursor)
	return err
}

// Cursor is a keyset position: the sort timestamp of the last row plus its id
// as tie breaker.
type Cursor struct {
	SortAt time.Time `json:"t"`
	ID     uuid.UUID `json:"id"`
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer asks for one extra row so Trim can tell whether another
// page follows.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Keyset orders query newest first by sortCol then idCol, applies the cursor
// in p and the buffered limit. It returns the normalized page size for Trim.
func Keyset(query *gorm.DB, sortCol, idCol string, p Params) (*gorm.DB, int, error) {
	cursor, err := ParseCursor(p.Cursor)
	if err != nil {
		return nil, 0, err
	}
	limit := NormalizeLimit(p.Limit)
	query = After(query, sortCol, idCol, cursor)
	query = query.Order(sortCol + " DESC").Order(idCol + " DESC").Limit(LimitWithBuffer(limit))
	return query, limit, nil
}

// After narrows a newest-first query to rows strictly past cursor.
func After(query *gorm.DB, sortCol, idCol string, cursor *Cursor) *gorm.DB {
	if cursor == nil {
		return query
	}
	cond := fmt.Sprintf("((%s < ?) OR (%s = ? AND %s < ?))", sortCol, sortCol, idCol)
	return query.Where(cond, cursor.SortAt, cursor.SortAt, cursor.ID)
}

// Trim cuts a buffered result set down to limit and returns the cursor for
// the following page, or "" on the last page.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, string) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return rows, ""
	}
	return rows[:limit], EncodeCursor(key(rows[limit-1]))
}

// EncodeCursor returns an opaque, URL-safe token for cursor.
func EncodeCursor(cursor Cursor) string {
	cursor.SortAt = cursor.SortAt.UTC()
	raw, _ := json.Marshal(cursor)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor decodes a token from EncodeCursor. An empty value yields nil.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	if c.SortAt.IsZero() || c.ID == uuid.Nil {
		return nil, errors.New("invalid cursor: incomplete position")
	}
	return &c, nil
}
