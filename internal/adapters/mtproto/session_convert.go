package mtproto

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
	_ "github.com/mattn/go-sqlite3"
)

// ErrUnsupportedSessionFormat возвращается, если формат сессии не распознан.
var ErrUnsupportedSessionFormat = errors.New("неподдерживаемый формат MTProto-сессии")

var sqliteMagic = []byte("SQLite format 3\x00")

// telethonRow — строка таблицы sessions из Telethon.
type telethonRow struct {
	DCID          int    `json:"dc_id"`
	ServerAddress string `json:"server_address"`
	Port          int    `json:"port"`
	AuthKey       string `json:"auth_key"`
}

// IsSQLiteSession сообщает, что данные — файл .session от Telethon.
func IsSQLiteSession(raw []byte) bool {
	return bytes.HasPrefix(raw, sqliteMagic)
}

// NormalizeSession приводит сессию к JSON-формату gotd. Поддерживаются
// gotd JSON, строковая сессия Telethon, экспорт аккаунта с extra_params
// и JSON-выгрузка таблицы sessions. Второе значение сообщает, была ли конвертация.
func NormalizeSession(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, errors.New("MTProto-сессия пуста")
	}
	if isGotdSession(trimmed) {
		return append([]byte(nil), trimmed...), false, nil
	}
	converters := []func([]byte) ([]byte, error){
		fromAccountExport,
		fromSessionRowsJSON,
		fromTelethonString,
	}
	for _, convert := range converters {
		if out, err := convert(trimmed); err == nil {
			return out, true, nil
		}
	}
	return nil, false, ErrUnsupportedSessionFormat
}

// ReadTelethonSQLite читает файл .session от Telethon и возвращает сессию gotd.
func ReadTelethonSQLite(ctx context.Context, path string) ([]byte, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("открытие файла сессии: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `SELECT dc_id, server_address, port, auth_key FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("чтение таблицы sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row  telethonRow
			addr sql.NullString
			port sql.NullInt64
			key  []byte
		)
		if err := rows.Scan(&row.DCID, &addr, &port, &key); err != nil {
			return nil, fmt.Errorf("разбор строки sessions: %w", err)
		}
		if !addr.Valid || !port.Valid || len(key) == 0 {
			continue
		}
		return encodeSession(row.DCID, addr.String, int(port.Int64), key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("в файле сессии нет авторизованных строк")
}

func isGotdSession(raw []byte) bool {
	var probe struct {
		Version int `json:"Version"`
	}
	return json.Unmarshal(raw, &probe) == nil && probe.Version != 0
}

func fromAccountExport(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("нет поля extra_params")
	}
	return fromTelethonString([]byte(account.ExtraParams))
}

func fromSessionRowsJSON(raw []byte) ([]byte, error) {
	var rows []telethonRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		key, err := hex.DecodeString(strings.Trim(strings.TrimSpace(row.AuthKey), `'"`))
		if err != nil {
			return nil, fmt.Errorf("декодирование auth_key: %w", err)
		}
		return encodeSession(row.DCID, row.ServerAddress, row.Port, key)
	}
	return nil, errors.New("нет пригодных строк сессии")
}

func fromTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'\n\r\t")
	if candidate == "" {
		return nil, errors.New("пустая строковая сессия")
	}
	data, err := session.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return marshalSession(*data)
}

func encodeSession(dcID int, host string, port int, rawKey []byte) ([]byte, error) {
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("неожиданная длина auth_key: %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return marshalSession(session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	})
}

func marshalSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
