package qrelay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("qrelay: no matching row")

// StoreConfig names the five tables' connection parameters (§6.2).
type StoreConfig struct {
	Address  string
	Port     int
	User     string
	Password string
	Database string
}

func (c StoreConfig) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Address, c.Port, c.Database)
}

// Store is the persistence adapter (C4): typed accessors to the five tables
// of §6.4, backed by MySQL through sqlx. One *sqlx.DB is opened at startup;
// each worker thread holds its own private *sqlx.Conn for the worker's
// lifetime so that no session is shared across threads (§4.4, §5).
type Store struct {
	db *sqlx.DB
}

// OpenStore opens the MySQL connection pool described by cfg.
func OpenStore(cfg StoreConfig) (*Store, error) {
	db, err := sqlx.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, Wrap(CategoryPersistence, err)
	}
	db.SetConnMaxLifetime(time.Hour)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Session is one worker thread's private persistence handle (§4.4, §5).
type Session struct {
	conn *sqlx.Conn
}

// NewSession checks out one *sqlx.Conn for the calling worker's exclusive
// use. The worker retains it for its lifetime rather than returning it to
// the pool between operations, which is what makes "one logical session
// per worker thread" hold even though database/sql pools connections
// beneath sqlx.
func (s *Store) NewSession(ctx context.Context) (*Session, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, Wrap(CategoryPersistence, err)
	}
	return &Session{conn: conn}, nil
}

// Close releases the session's connection back to the pool.
func (s *Session) Close() error { return s.conn.Close() }

// --- user_account ---

// UserAccount mirrors user_account(user_id, mail_address, password_b64).
type UserAccount struct {
	UserID       uint32 `db:"user_id"`
	MailAddress  string `db:"mail_address"`
	PasswordB64  string `db:"password_b64"`
}

func (s *Session) LookupAccountByMail(ctx context.Context, mail string) (UserAccount, error) {
	var a UserAccount
	err := s.conn.GetContext(ctx, &a,
		`SELECT user_id, mail_address, password_b64 FROM user_account WHERE mail_address = ? LIMIT 1`, mail)
	if errors.Is(err, sql.ErrNoRows) {
		return UserAccount{}, ErrNotFound
	}
	if err != nil {
		return UserAccount{}, Wrap(CategoryPersistence, err)
	}
	return a, nil
}

func (s *Session) CreateAccount(ctx context.Context, mail, passwordB64 string) (uint32, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO user_account (mail_address, password_b64) VALUES (?, ?)`, mail, passwordB64)
	if err != nil {
		return 0, Wrap(CategoryPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, Wrap(CategoryPersistence, err)
	}
	return uint32(id), nil
}

func (s *Session) RemoveAccount(ctx context.Context, userID uint32) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM user_account WHERE user_id = ?`, userID)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

// --- user_device_list ---

func (s *Session) DeviceExists(ctx context.Context, userID uint32, deviceKey string) (bool, error) {
	var n int
	err := s.conn.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM user_device_list WHERE user_id = ? AND device_key = ?`, userID, deviceKey)
	if err != nil {
		return false, Wrap(CategoryPersistence, err)
	}
	return n > 0, nil
}

func (s *Session) AddDevice(ctx context.Context, userID uint32, deviceKey string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO user_device_list (user_id, device_key) VALUES (?, ?)`, userID, deviceKey)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

func (s *Session) RemoveDevice(ctx context.Context, userID uint32, deviceKey string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM user_device_list WHERE user_id = ? AND device_key = ?`, userID, deviceKey)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

// --- message_data ---

// StoredMessage mirrors message_data (§3, §4.7).
type StoredMessage struct {
	MessageID     uint64 `db:"message_id"`
	UserID        uint32 `db:"user_id"`
	DeviceKey     string `db:"device_key"`
	ActorType     byte   `db:"actor_type"`
	MessageType   byte   `db:"message_type"`
	MessageDataB64 string `db:"message_data_b64"`
}

// maxStoredPayloadB64 caps the base64-encoded payload at 2048 bytes (§3, §4.7).
const maxStoredPayloadB64 = 2048

func (s *Session) StoreMessage(ctx context.Context, userID uint32, deviceKey string, actor ActorType, frameID FrameID, payloadB64 string) error {
	if len(payloadB64) > maxStoredPayloadB64 {
		return ErrPayloadTooLarge
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO message_data (user_id, device_key, actor_type, message_type, message_data_b64) VALUES (?, ?, ?, ?, ?)`,
		userID, deviceKey, byte(actor), byte(frameID), payloadB64)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

// PopOldestMessage returns and deletes the oldest row for (userID,
// deviceKey, senderActor), ordered by message_id (§4.7). The select and
// delete are not combined into a single transaction per §4.4 ("no
// transaction spans more than one operation"); consumers tolerate the
// resulting at-most-once-but-possibly-duplicated delivery (§4.7).
func (s *Session) PopOldestMessage(ctx context.Context, userID uint32, deviceKey string, senderActor ActorType) (StoredMessage, bool, error) {
	var m StoredMessage
	err := s.conn.GetContext(ctx, &m,
		`SELECT message_id, user_id, device_key, actor_type, message_type, message_data_b64
		 FROM message_data WHERE user_id = ? AND device_key = ? AND actor_type = ?
		 ORDER BY message_id ASC LIMIT 1`, userID, deviceKey, byte(senderActor))
	if errors.Is(err, sql.ErrNoRows) {
		return StoredMessage{}, false, nil
	}
	if err != nil {
		return StoredMessage{}, false, Wrap(CategoryPersistence, err)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM message_data WHERE message_id = ?`, m.MessageID); err != nil {
		return StoredMessage{}, false, Wrap(CategoryPersistence, err)
	}
	return m, true, nil
}

// --- channel_list ---

// ChannelRow mirrors channel_list (§3, §4.8).
type ChannelRow struct {
	ChannelID           uint32 `db:"channel_id"`
	Name                string `db:"name"`
	Address             string `db:"address"`
	Port                uint16 `db:"port"`
	AssistantConnections int   `db:"assistant_connections"`
	LastUpdate          int64  `db:"last_update"`
}

// channelLivenessWindowSeconds is the staleness cutoff (§3, §4.8): rows
// with last_update older than this are not returned to readers.
const channelLivenessWindowSeconds = 300

func (s *Session) LiveChannelsByName(ctx context.Context, name string, now int64) ([]ChannelRow, error) {
	var rows []ChannelRow
	err := s.conn.SelectContext(ctx, &rows,
		`SELECT channel_id, name, address, port, assistant_connections, last_update
		 FROM channel_list WHERE name = ? AND last_update >= ?`,
		name, now-channelLivenessWindowSeconds)
	if err != nil {
		return nil, Wrap(CategoryPersistence, err)
	}
	return rows, nil
}

func (s *Session) LiveChannelByID(ctx context.Context, channelID uint32, name string, now int64) (ChannelRow, bool, error) {
	var row ChannelRow
	err := s.conn.GetContext(ctx, &row,
		`SELECT channel_id, name, address, port, assistant_connections, last_update
		 FROM channel_list WHERE channel_id = ? AND name = ? AND last_update >= ? LIMIT 1`,
		channelID, name, now-channelLivenessWindowSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelRow{}, false, nil
	}
	if err != nil {
		return ChannelRow{}, false, Wrap(CategoryPersistence, err)
	}
	return row, true, nil
}

func (s *Session) AdjustAssistantConnections(ctx context.Context, channelID uint32, delta int) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE channel_list SET assistant_connections = assistant_connections + ? WHERE channel_id = ?`,
		delta, channelID)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

func (s *Session) TouchChannel(ctx context.Context, channelID uint32, now int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE channel_list SET last_update = ? WHERE channel_id = ?`, now, channelID)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

// --- connection_device_channel ---

// ConnectionDeviceChannelRow mirrors connection_device_channel (§3, §4.6, §4.8).
type ConnectionDeviceChannelRow struct {
	ChannelID uint32 `db:"channel_id"`
	UserID    uint32 `db:"user_id"`
	DeviceKey string `db:"device_key"`
}

func (s *Session) ConnectionChannelExists(ctx context.Context, channelID uint32, deviceKey string) (bool, error) {
	var n int
	err := s.conn.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM connection_device_channel WHERE channel_id = ? AND device_key = ?`,
		channelID, deviceKey)
	if err != nil {
		return false, Wrap(CategoryPersistence, err)
	}
	return n > 0, nil
}

func (s *Session) InsertConnectionChannel(ctx context.Context, channelID, userID uint32, deviceKey string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO connection_device_channel (channel_id, user_id, device_key) VALUES (?, ?, ?)`,
		channelID, userID, deviceKey)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

func (s *Session) DeleteConnectionChannel(ctx context.Context, channelID uint32, deviceKey string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM connection_device_channel WHERE channel_id = ? AND device_key = ?`,
		channelID, deviceKey)
	if err != nil {
		return Wrap(CategoryPersistence, err)
	}
	return nil
}

func (s *Session) ConnectionChannelsForDevice(ctx context.Context, userID uint32, deviceKey string) ([]ConnectionDeviceChannelRow, error) {
	var rows []ConnectionDeviceChannelRow
	err := s.conn.SelectContext(ctx, &rows,
		`SELECT channel_id, user_id, device_key FROM connection_device_channel WHERE user_id = ? AND device_key = ?`,
		userID, deviceKey)
	if err != nil {
		return nil, Wrap(CategoryPersistence, err)
	}
	return rows, nil
}
