package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
	q    queries
	log  zerolog.Logger
}

var (
	_ domain.PostRepo    = (*Postgres)(nil)
	_ domain.UserRepo    = (*Postgres)(nil)
	_ domain.SessionRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, q: newQueries(sq.Dollar), log: logger}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// SavePost сохраняет пост; повтор того же сообщения возвращает существующий id.
func (p *Postgres) SavePost(ctx context.Context, post domain.Post) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := p.q.insertPost(post.ChannelID, post.ChannelTitle, post.MessageID, post.PublishedAt.UTC(), post.Text, post.URL).ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	start := time.Now()
	err = p.pool.QueryRow(ctx, query, args...).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, ignoreNoRows(err))
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("сохранение поста: %w", err)
	}

	query, args, err = p.q.postIDByMessage(post.ChannelID, post.MessageID).ToSql()
	if err != nil {
		return 0, err
	}
	start = time.Now()
	err = p.pool.QueryRow(ctx, query, args...).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "posts_lookup", "posts", start, err)
	if err != nil {
		return 0, fmt.Errorf("поиск существующего поста: %w", err)
	}
	return id, nil
}

// ListUnsent возвращает неотправленные посты.
func (p *Postgres) ListUnsent(ctx context.Context) ([]domain.Post, error) {
	return p.listPosts(ctx, "posts_unsent", p.q.unsent())
}

// ListRecent возвращает посты новее since.
func (p *Postgres) ListRecent(ctx context.Context, since time.Time) ([]domain.Post, error) {
	return p.listPosts(ctx, "posts_recent", p.q.recent(since.UTC()))
}

func (p *Postgres) listPosts(ctx context.Context, op string, b sq.SelectBuilder) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("получение постов: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		// Ошибка Scan в pgx закрывает rows, поэтому значения читаются
		// в терпимые pgtype и проверяются отдельно.
		var row pgPostRow
		if err := rows.Scan(&row.id, &row.channelID, &row.title, &row.messageID, &row.publishedAt, &row.text, &row.url, &row.sent); err != nil {
			return nil, fmt.Errorf("чтение поста: %w", err)
		}
		post, err := row.decode()
		if err != nil {
			p.log.Warn().Err(err).Str("op", op).Int64("post_id", row.id.Int64).Msg("repo: пропущена повреждённая запись поста")
			continue
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("чтение постов: %w", err)
	}
	return posts, nil
}

var errMalformedPost = errors.New("повреждённая запись поста")

type pgPostRow struct {
	id          pgtype.Int8
	channelID   pgtype.Int8
	title       pgtype.Text
	messageID   pgtype.Int8
	publishedAt pgtype.Timestamptz
	text        pgtype.Text
	url         pgtype.Text
	sent        pgtype.Bool
}

func (r pgPostRow) decode() (domain.Post, error) {
	switch {
	case !r.id.Valid || !r.channelID.Valid || !r.messageID.Valid:
		return domain.Post{}, fmt.Errorf("%w: пустой идентификатор", errMalformedPost)
	case !r.publishedAt.Valid || r.publishedAt.InfinityModifier != pgtype.Finite:
		return domain.Post{}, fmt.Errorf("%w: некорректная дата публикации", errMalformedPost)
	case !r.text.Valid:
		return domain.Post{}, fmt.Errorf("%w: пустой текст", errMalformedPost)
	}
	return domain.Post{
		ID:           r.id.Int64,
		ChannelID:    r.channelID.Int64,
		ChannelTitle: r.title.String,
		MessageID:    r.messageID.Int64,
		PublishedAt:  r.publishedAt.Time.UTC(),
		Text:         r.text.String,
		URL:          r.url.String,
		Sent:         r.sent.Bool,
	}, nil
}

// MarkSent помечает посты отправленными в одной транзакции.
func (p *Postgres) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, chunk := range chunkIDs(ids, markSentChunk) {
			query, args, err := p.q.markSent(chunk).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.ObserveNetworkRequest("postgres", "posts_mark_sent", "posts", start, err)
	if err != nil {
		return fmt.Errorf("отметка отправленных постов: %w", err)
	}
	return nil
}

// CountUnsent возвращает число неотправленных постов и время самого раннего.
func (p *Postgres) CountUnsent(ctx context.Context) (domain.UnsentStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := p.q.countUnsent().ToSql()
	if err != nil {
		return domain.UnsentStats{}, err
	}
	var (
		stats    domain.UnsentStats
		earliest *time.Time
	)
	start := time.Now()
	err = p.pool.QueryRow(ctx, query, args...).Scan(&stats.Count, &earliest)
	metrics.ObserveNetworkRequest("postgres", "posts_count_unsent", "posts", start, err)
	if err != nil {
		return domain.UnsentStats{}, fmt.Errorf("подсчёт постов: %w", err)
	}
	stats.Earliest = earliest
	return stats, nil
}

// UnsentByChannel возвращает разбивку неотправленных постов по каналам.
func (p *Postgres) UnsentByChannel(ctx context.Context) ([]domain.ChannelStat, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := p.q.unsentByChannel().ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "posts_unsent_by_channel", "posts", start, err)
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
func (p *Postgres) Register(ctx context.Context, userID int64, handle string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := p.q.registerUser(userID, handle, time.Now().UTC()).ToSql()
	if err != nil {
		return false, err
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "users_register", "users", start, err)
	if err != nil {
		return false, fmt.Errorf("регистрация пользователя: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUserIDs возвращает id всех подписчиков.
func (p *Postgres) ListUserIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := p.q.userIDs().ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "users_list", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("получение пользователей: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("чтение пользователей: %w", err)
	}
	return ids, nil
}

// LoadMTProtoSession загружает MTProto-сессию.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := p.q.loadSession(sessionName(name)).ToSql()
	if err != nil {
		return nil, err
	}
	var data []byte
	start := time.Now()
	err = p.pool.QueryRow(ctx, query, args...).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := p.q.storeSession(sessionName(name), data, time.Now().UTC()).ToSql()
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
