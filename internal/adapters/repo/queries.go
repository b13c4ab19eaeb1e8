package repo

import (
	sq "github.com/Masterminds/squirrel"
)

// markSentChunk ограничивает число id в одном UPDATE.
const markSentChunk = 500

var postColumns = []string{"id", "channel_id", "channel_title", "message_id", "published_at", "content", "link", "sent"}

// queries собирает SQL, общий для Postgres и SQLite. Различаются только плейсхолдеры
// и представление времени, которое передаёт вызывающий.
type queries struct {
	sb sq.StatementBuilderType
}

func newQueries(ph sq.PlaceholderFormat) queries {
	return queries{sb: sq.StatementBuilder.PlaceholderFormat(ph)}
}

func (q queries) insertPost(channelID int64, title string, messageID int64, publishedAt any, content, link string) sq.InsertBuilder {
	return q.sb.Insert("posts").
		Columns("channel_id", "channel_title", "message_id", "published_at", "content", "link").
		Values(channelID, title, messageID, publishedAt, content, link).
		Suffix("ON CONFLICT (channel_id, message_id) DO NOTHING RETURNING id")
}

func (q queries) postIDByMessage(channelID, messageID int64) sq.SelectBuilder {
	return q.sb.Select("id").From("posts").Where(sq.Eq{"channel_id": channelID, "message_id": messageID})
}

func (q queries) unsent() sq.SelectBuilder {
	return q.sb.Select(postColumns...).From("posts").
		Where(sq.Eq{"sent": false}).
		OrderBy("published_at ASC", "id ASC")
}

func (q queries) recent(since any) sq.SelectBuilder {
	return q.sb.Select(postColumns...).From("posts").
		Where(sq.Gt{"published_at": since}).
		OrderBy("published_at ASC", "id ASC")
}

func (q queries) markSent(ids []int64) sq.UpdateBuilder {
	return q.sb.Update("posts").
		Set("sent", true).
		Where(sq.Eq{"id": ids, "sent": false})
}

func (q queries) countUnsent() sq.SelectBuilder {
	return q.sb.Select("COUNT(*)", "MIN(published_at)").From("posts").Where(sq.Eq{"sent": false})
}

func (q queries) unsentByChannel() sq.SelectBuilder {
	return q.sb.Select("channel_id", "MAX(channel_title)", "COUNT(*)").From("posts").
		Where(sq.Eq{"sent": false}).
		GroupBy("channel_id").
		OrderBy("MIN(published_at) ASC")
}

func (q queries) registerUser(userID int64, handle string, firstSeen any) sq.InsertBuilder {
	return q.sb.Insert("users").
		Columns("user_id", "handle", "first_seen").
		Values(userID, handle, firstSeen).
		Suffix("ON CONFLICT (user_id) DO NOTHING")
}

func (q queries) userIDs() sq.SelectBuilder {
	return q.sb.Select("user_id").From("users").OrderBy("first_seen ASC", "user_id ASC")
}

func (q queries) loadSession(name string) sq.SelectBuilder {
	return q.sb.Select("data").From("mtproto_sessions").Where(sq.Eq{"name": name})
}

func (q queries) storeSession(name string, data []byte, updatedAt any) sq.InsertBuilder {
	return q.sb.Insert("mtproto_sessions").
		Columns("name", "data", "updated_at").
		Values(name, data, updatedAt).
		Suffix("ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at")
}

func chunkIDs(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for len(ids) > 0 {
		n := min(size, len(ids))
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func sessionName(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
