// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"strings"
)

// sortable whitelists the fields accepted by OrderBy. Anything else is
// ignored with a log entry, never an error.
var sortable = map[string]string{
	"id":                "videos.id",
	"title":             "videos.title",
	"artist":            "videos.artist",
	"album":             "videos.album",
	"year":              "videos.year",
	"status":            "videos.status",
	"file_size":         "videos.file_size",
	"created_at":        "videos.created_at",
	"updated_at":        "videos.updated_at",
	"status_changed_at": "videos.status_changed_at",
}

// VideoQuery is a fluent builder over the videos table. Zero-value defaults
// exclude soft-deleted rows.
type VideoQuery struct {
	s *Store

	conds []string
	args  []any
	joins []string

	search         string
	includeDeleted bool
	orderBy        string
	orderDesc      bool
	limit          int
	offset         int
}

// Videos starts a query.
func (s *Store) Videos() *VideoQuery {
	return &VideoQuery{s: s}
}

func (q *VideoQuery) like(column, value string) *VideoQuery {
	q.conds = append(q.conds, fmt.Sprintf("%s LIKE '%%' || ? || '%%' COLLATE NOCASE", column))
	q.args = append(q.args, value)
	return q
}

// Artist filters on a case-insensitive substring of the artist field.
func (q *VideoQuery) Artist(v string) *VideoQuery { return q.like("videos.artist", v) }

// Title filters on a case-insensitive substring of the title.
func (q *VideoQuery) Title(v string) *VideoQuery { return q.like("videos.title", v) }

// Album filters on a case-insensitive substring of the album.
func (q *VideoQuery) Album(v string) *VideoQuery { return q.like("videos.album", v) }

// Genre filters on a case-insensitive substring of the genre.
func (q *VideoQuery) Genre(v string) *VideoQuery { return q.like("videos.genre", v) }

// Director filters on a case-insensitive substring of the director.
func (q *VideoQuery) Director(v string) *VideoQuery { return q.like("videos.director", v) }

// Year filters on the exact year.
func (q *VideoQuery) Year(y int) *VideoQuery {
	q.conds = append(q.conds, "videos.year = ?")
	q.args = append(q.args, y)
	return q
}

// YearRange filters on an inclusive year range.
func (q *VideoQuery) YearRange(from, to int) *VideoQuery {
	q.conds = append(q.conds, "videos.year BETWEEN ? AND ?")
	q.args = append(q.args, from, to)
	return q
}

// IMVDbID filters on the exact IMVDb video ID.
func (q *VideoQuery) IMVDbID(id string) *VideoQuery {
	q.conds = append(q.conds, "videos.imvdb_video_id = ?")
	q.args = append(q.args, id)
	return q
}

// YouTubeID filters on the exact YouTube ID.
func (q *VideoQuery) YouTubeID(id string) *VideoQuery {
	q.conds = append(q.conds, "videos.youtube_id = ?")
	q.args = append(q.args, id)
	return q
}

// VimeoID filters on the exact Vimeo ID.
func (q *VideoQuery) VimeoID(id string) *VideoQuery {
	q.conds = append(q.conds, "videos.vimeo_id = ?")
	q.args = append(q.args, id)
	return q
}

// FilePath filters on the exact video file path.
func (q *VideoQuery) FilePath(path string) *VideoQuery {
	q.conds = append(q.conds, "videos.video_file_path = ?")
	q.args = append(q.args, path)
	return q
}

// Checksum filters on the exact content hash.
func (q *VideoQuery) Checksum(hash string) *VideoQuery {
	q.conds = append(q.conds, "videos.file_checksum = ?")
	q.args = append(q.args, hash)
	return q
}

// Status filters on the lifecycle status.
func (q *VideoQuery) Status(status Status) *VideoQuery {
	q.conds = append(q.conds, "videos.status = ?")
	q.args = append(q.args, string(status))
	return q
}

// Source filters on the download source tag.
func (q *VideoQuery) Source(source string) *VideoQuery {
	q.conds = append(q.conds, "videos.download_source = ?")
	q.args = append(q.args, source)
	return q
}

// Tag filters on videos carrying the named tag.
func (q *VideoQuery) Tag(name string) *VideoQuery {
	q.joins = append(q.joins,
		"JOIN video_tags qt ON qt.video_id = videos.id",
		"JOIN tags qtag ON qtag.id = qt.tag_id")
	q.conds = append(q.conds, "qtag.normalized_name = ?")
	q.args = append(q.args, normalizeName(name))
	return q
}

// Collection filters on membership in the named collection.
func (q *VideoQuery) Collection(name string) *VideoQuery {
	q.joins = append(q.joins,
		"JOIN video_collections qvc ON qvc.video_id = videos.id",
		"JOIN collections qc ON qc.id = qvc.collection_id")
	q.conds = append(q.conds, "qc.normalized_name = ?")
	q.args = append(q.args, normalizeName(name))
	return q
}

// Search switches the select to the full-text index with query as the MATCH
// operand. Syntax is whatever FTS5 accepts.
func (q *VideoQuery) Search(query string) *VideoQuery {
	q.search = query
	return q
}

// IncludeDeleted toggles the default is_deleted = 0 filter.
func (q *VideoQuery) IncludeDeleted(include bool) *VideoQuery {
	q.includeDeleted = include
	return q
}

// OrderBy sorts by a whitelisted field. Unknown fields are logged and
// silently ignored.
func (q *VideoQuery) OrderBy(field string, desc bool) *VideoQuery {
	col, ok := sortable[field]
	if !ok {
		q.s.logger.Warn().Str("field", field).Msg("ignoring unsortable order_by field")
		return q
	}
	q.orderBy = col
	q.orderDesc = desc
	return q
}

// Limit caps the result size.
func (q *VideoQuery) Limit(n int) *VideoQuery {
	q.limit = n
	return q
}

// Offset skips the first n rows.
func (q *VideoQuery) Offset(n int) *VideoQuery {
	q.offset = n
	return q
}

func (q *VideoQuery) build(count bool) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(q.args)+2)

	if count {
		sb.WriteString("SELECT COUNT(DISTINCT videos.id) FROM videos")
	} else {
		sb.WriteString("SELECT DISTINCT " + qualifiedVideoColumns() + " FROM videos")
	}

	if q.search != "" {
		sb.WriteString(" JOIN videos_fts ON videos_fts.rowid = videos.id")
	}
	for _, j := range q.joins {
		sb.WriteString(" " + j)
	}

	conds := make([]string, 0, len(q.conds)+2)
	if q.search != "" {
		conds = append(conds, "videos_fts MATCH ?")
		args = append(args, q.search)
	}
	conds = append(conds, q.conds...)
	args = append(args, q.args...)
	if !q.includeDeleted {
		conds = append(conds, "videos.is_deleted = 0")
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	if !count {
		if q.orderBy != "" {
			sb.WriteString(" ORDER BY " + q.orderBy)
			if q.orderDesc {
				sb.WriteString(" DESC")
			}
		} else {
			sb.WriteString(" ORDER BY videos.id")
		}
		if q.limit > 0 {
			sb.WriteString(fmt.Sprintf(" LIMIT %d", q.limit))
			if q.offset > 0 {
				sb.WriteString(fmt.Sprintf(" OFFSET %d", q.offset))
			}
		} else if q.offset > 0 {
			sb.WriteString(fmt.Sprintf(" LIMIT -1 OFFSET %d", q.offset))
		}
	}

	return sb.String(), args
}

func qualifiedVideoColumns() string {
	cols := strings.Split(videoColumns, ",")
	for i, c := range cols {
		cols[i] = "videos." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// Execute returns the matching rows.
func (q *VideoQuery) Execute(ctx context.Context) ([]Video, error) {
	query, args := q.build(false)
	rows, err := q.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan video: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Count returns the number of matching rows with limit and offset removed.
func (q *VideoQuery) Count(ctx context.Context) (int64, error) {
	query, args := q.build(true)
	var n int64
	if err := q.s.q(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return n, nil
}
