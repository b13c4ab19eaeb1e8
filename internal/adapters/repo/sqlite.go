package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gotd/td/session"
	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
)

// sqliteTimeLayout даёт строки фиксированной длины в UTC, поэтому их можно сравнивать как текст.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLite реализует репозитории поверх одного файла SQLite.
type SQLite struct {
	db  *sql.DB
	q   queries
	log zerolog.Logger
	now func() time.Time
}

var (
	_ domain.PostRepo    = (*SQLite)(nil)
	_ domain.UserRepo    = (*SQLite)(nil)
	_ domain.SessionRepo = (*SQLite)(nil)
)

// NewSQLite создаёт адаптер SQLite.
func NewSQLite(db *sql.DB, logger zerolog.Logger) *SQLite {
	return &SQLite{db: db, q: newQueries(sq.Question), log: logger, now: time.Now}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

// SavePost сохраняет пост; повтор того же сообщения возвращает существующий id.
func (s *SQLite) SavePost(ctx context.Context, post domain.Post) (int64, error) {
	query, args, err := s.q.insertPost(post.ChannelID, post.ChannelTitle, post.MessageID, formatTime(post.PublishedAt), post.Text, post.URL).ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	start := time.Now()
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	metrics.ObserveNetworkRequest("sqlite", "posts_insert", "posts", start, ignoreSQLNoRows(err))
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("сохранение поста: %w", err)
	}

	query, args, err = s.q.postIDByMessage(post.ChannelID, post.MessageID).ToSql()
	if err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("поиск существующего поста: %w", err)
	}
	return id, nil
}

// ListUnsent возвращает неотправленные посты.
func (s *SQLite) ListUnsent(ctx context.Context) ([]domain.Post, error) {
	return s.listPosts(ctx, "posts_unsent", s.q.unsent())
}

// ListRecent возвращает посты новее since.
func (s *SQLite) ListRecent(ctx context.Context, since time.Time) ([]domain.Post, error) {
	return s.listPosts(ctx, "posts_recent", s.q.recent(formatTime(since)))
}

func (s *SQLite) listPosts(ctx context.Context, op string, b sq.SelectBuilder) ([]domain.Post, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", op, "posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("получение постов: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			post      domain.Post
			published string
		)
		if err := rows.Scan(&post.ID, &post.ChannelID, &post.ChannelTitle, &post.MessageID, &published, &post.Text, &post.URL, &post.Sent); err != nil {
			s.log.Warn().Err(err).Str("op", op).Msg("repo: пропущена повреждённая запись поста")
			continue
		}
		post.PublishedAt, err = parseTime(published)
		if err != nil {
			s.log.Warn().Err(err).Int64("post", post.ID).Str("published_at", published).Msg("repo: пропущен пост с некорректным временем")
			continue
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("чтение постов: %w", err)
	}
	return posts, nil
}

// MarkSent помечает посты отправленными в одной транзакции.
func (s *SQLite) MarkSent(ctx context.Context, ids []int64) (err error) {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("sqlite", "posts_mark_sent", "posts", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, chunk := range chunkIDs(ids, markSentChunk) {
		query, args, buildErr := s.q.markSent(chunk).ToSql()
		if buildErr != nil {
			return buildErr
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("отметка отправленных постов: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("фиксация отметки: %w", err)
	}
	return nil
}

// CountUnsent возвращает число неотправленных постов и время самого раннего.
func (s *SQLite) CountUnsent(ctx context.Context) (domain.UnsentStats, error) {
	query, args, err := s.q.countUnsent().ToSql()
	if err != nil {
		return domain.UnsentStats{}, err
	}
	var (
		stats    domain.UnsentStats
		earliest sql.NullString
	)
	start := time.Now()
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Count, &earliest)
	metrics.ObserveNetworkRequest("sqlite", "posts_count_unsent", "posts", start, err)
	if err != nil {
		return domain.UnsentStats{}, fmt.Errorf("подсчёт постов: %w", err)
	}
	if earliest.Valid {
		ts, err := parseTime(earliest.String)
		if err != nil {
			s.log.Warn().Err(err).Str("published_at", earliest.String).Msg("repo: некорректное время первого поста")
			return stats, nil
		}
		stats.Earliest = &ts
	}
	return stats, nil
}

// UnsentByChannel возвращает разбивку неотправленных постов по каналам.
func (s *SQLite) UnsentByChannel(ctx context.Context) ([]domain.ChannelStat, error) {
	query, args, err := s.q.unsentByChannel().ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("разбивка по каналам: %w", err)
	}
	defer rows.Close()

	var stats []domain.ChannelStat
	for rows.Next() {
		var st domain.ChannelStat
		if err := rows.Scan(&st.ChannelID, &st.Title, &st.Count); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Register добавляет подписчика, если его ещё нет.
func (s *SQLite) Register(ctx context.Context, userID int64, handle string) (bool, error) {
	query, args, err := s.q.registerUser(userID, handle, formatTime(s.now())).ToSql()
	if err != nil {
		return false, err
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", "users_register", "users", start, err)
	if err != nil {
		return false, fmt.Errorf("регистрация пользователя: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListUserIDs возвращает id всех подписчиков.
func (s *SQLite) ListUserIDs(ctx context.Context) ([]int64, error) {
	query, args, err := s.q.userIDs().ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("получение пользователей: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadMTProtoSession загружает MTProto-сессию.
func (s *SQLite) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	query, args, err := s.q.loadSession(sessionName(name)).ToSql()
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	return data, err
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (s *SQLite) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	query, args, err := s.q.storeSession(sessionName(name), data, formatTime(s.now())).ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func ignoreSQLNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}
