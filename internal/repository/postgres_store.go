package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

// Канал LISTEN/NOTIFY; payload - имя коллекции
const DocumentChangesChannel = "document_changes"

const documentsSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_chat_room_idx
		ON documents ((data->>'roomId'), (data->'timestampMs'))
		WHERE collection = 'chat';
	CREATE INDEX IF NOT EXISTS documents_participants_idx
		ON documents USING GIN ((data->'participants'))
		WHERE collection = 'chatRooms';
`

// postgresStore хранит документы в JSONB; слияние выполняется оператором ||
type postgresStore struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewPostgresStore(db *pgxpool.Pool, log logger.Logger) DocumentStore {
	return &postgresStore{db: db, log: log}
}

// Migrate создает таблицу документов и индексы
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, documentsSchema); err != nil {
		return fmt.Errorf("migrate documents: %w", mapPostgresError(err))
	}
	return nil
}

func (r *postgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	query := `
		SELECT data
		FROM documents
		WHERE collection = $1 AND id = $2
	`

	var raw []byte
	err := r.db.QueryRow(ctx, query, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(collection, id)
		}
		r.log.Error("Failed to get document", "error", err, "collection", collection, "id", id)
		return nil, mapPostgresError(err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &Document{ID: id, Data: data}, nil
}

func (r *postgresStore) Set(ctx context.Context, collection, id string, value map[string]interface{}, opts SetOptions) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = now()
	`
	if opts.Merge {
		query = `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (collection, id) DO UPDATE
			SET data = documents.data || EXCLUDED.data, updated_at = now()
		`
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, collection, id, raw); err != nil {
			return err
		}
		return r.notify(ctx, tx, collection)
	})
	if err != nil {
		r.log.Error("Failed to set document", "error", err, "collection", collection, "id", id)
		return mapPostgresError(err)
	}
	return nil
}

func (r *postgresStore) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	query := `
		UPDATE documents
		SET data = data || $3, updated_at = now()
		WHERE collection = $1 AND id = $2
	`

	var missing bool
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, collection, id, raw)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			missing = true
			return nil
		}
		return r.notify(ctx, tx, collection)
	})
	if err != nil {
		r.log.Error("Failed to update document", "error", err, "collection", collection, "id", id)
		return mapPostgresError(err)
	}
	if missing {
		return notFound(collection, id)
	}
	return nil
}

func (r *postgresStore) Remove(ctx context.Context, collection, id string) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
			return err
		}
		return r.notify(ctx, tx, collection)
	})
	if err != nil {
		r.log.Error("Failed to delete document", "error", err, "collection", collection, "id", id)
		return mapPostgresError(err)
	}
	return nil
}

func (r *postgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	var (
		sb   strings.Builder
		args = []interface{}{q.Collection}
	)
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)

	if q.EqualityField != "" {
		if q.Op == FilterContains {
			needle, err := json.Marshal([]interface{}{q.EqualityValue})
			if err != nil {
				return nil, fmt.Errorf("failed to marshal filter: %w", err)
			}
			args = append(args, q.EqualityField, needle)
			sb.WriteString(fmt.Sprintf(` AND data->$%d @> $%d::jsonb`, len(args)-1, len(args)))
		} else {
			args = append(args, q.EqualityField, fmt.Sprint(q.EqualityValue))
			sb.WriteString(fmt.Sprintf(` AND data->>$%d = $%d`, len(args)-1, len(args)))
		}
	}

	if q.OrderByField != "" {
		args = append(args, q.OrderByField)
		direction := "ASC"
		if q.Descending {
			direction = "DESC"
		}
		sb.WriteString(fmt.Sprintf(` ORDER BY data->$%d %s, id %s`, len(args), direction, direction))
	} else {
		sb.WriteString(` ORDER BY id`)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(fmt.Sprintf(` LIMIT $%d`, len(args)))
	}

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		r.log.Error("Failed to query documents", "error", err, "collection", q.Collection)
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			r.log.Error("Failed to scan document", "error", err)
			return nil, mapPostgresError(err)
		}
		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			r.log.Warn("Failed to unmarshal document", "error", err, "id", id)
			continue
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}

	return docs, nil
}

// Subscribe держит отдельное соединение с LISTEN и перезапрашивает выборку по уведомлению
func (r *postgresStore) Subscribe(ctx context.Context, q Query, onData func([]Document), onError func(error)) (Unsubscribe, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", mapPostgresError(err))
	}
	listen := "LISTEN " + pgx.Identifier{DocumentChangesChannel}.Sanitize()
	if _, err := conn.Exec(ctx, listen); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", mapPostgresError(err))
	}

	lq := startLiveQuery(ctx, q, r.Query, onData, onError)

	go func() {
		defer func() {
			// соединение с активным LISTEN не возвращаем в пул
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(lq.ctx)
			if err != nil {
				if lq.ctx.Err() == nil && onError != nil {
					r.log.Warn("Listen connection lost", "error", err, "collection", q.Collection)
					onError(mapPostgresError(err))
				}
				return
			}
			if n.Payload == q.Collection {
				lq.poke()
			}
		}
	}()

	return lq.stop, nil
}

// Claim: ON CONFLICT DO UPDATE без изменений нужен, чтобы RETURNING вернул существующую строку
func (r *postgresStore) Claim(ctx context.Context, collection, id, owner string) (string, error) {
	raw, err := json.Marshal(map[string]interface{}{ClaimOwnerField: owner})
	if err != nil {
		return "", fmt.Errorf("failed to marshal claim: %w", err)
	}

	query := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = documents.data
		RETURNING COALESCE(data->>$4, '')
	`

	var current string
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query, collection, id, raw, ClaimOwnerField).Scan(&current); err != nil {
			return err
		}
		if current == owner {
			return r.notify(ctx, tx, collection)
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to claim document", "error", err, "collection", collection, "id", id)
		return "", mapPostgresError(err)
	}
	return current, nil
}

// SetMissing: INSERT ... DO NOTHING ждет фиксации конкурирующей вставки,
// после чего существующая строка блокируется и дополняется
func (r *postgresStore) SetMissing(ctx context.Context, collection, id string, defaults map[string]interface{}) (bool, error) {
	data, err := normalizeData(defaults)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("failed to marshal document: %w", err)
	}

	insert := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO NOTHING
	`
	selectForUpdate := `
		SELECT data
		FROM documents
		WHERE collection = $1 AND id = $2
		FOR UPDATE
	`
	update := `
		UPDATE documents
		SET data = data || $3, updated_at = now()
		WHERE collection = $1 AND id = $2
	`

	var created bool
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		created = false
		tag, err := tx.Exec(ctx, insert, collection, id, raw)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			created = true
			return r.notify(ctx, tx, collection)
		}

		var current []byte
		if err := tx.QueryRow(ctx, selectForUpdate, collection, id).Scan(&current); err != nil {
			return err
		}
		existing := map[string]interface{}{}
		if err := json.Unmarshal(current, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal document: %w", err)
		}
		patch := missingFields(existing, data)
		if len(patch) == 0 {
			return nil
		}
		rawPatch, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("failed to marshal patch: %w", err)
		}
		if _, err := tx.Exec(ctx, update, collection, id, rawPatch); err != nil {
			return err
		}
		return r.notify(ctx, tx, collection)
	})
	if err != nil {
		r.log.Error("Failed to fill document", "error", err, "collection", collection, "id", id)
		return false, mapPostgresError(err)
	}
	return created, nil
}

func (r *postgresStore) GenerateID(collection string) string {
	return uuid.Must(uuid.NewV7()).String()
}

// Close не закрывает пул: подключение принадлежит вызывающему
func (r *postgresStore) Close() error {
	return nil
}

func (r *postgresStore) notify(ctx context.Context, tx pgx.Tx, collection string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, DocumentChangesChannel, collection)
	return err
}

func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501":
			return fmt.Errorf("%v: %w", err, apperrors.ErrPermission)
		case "53200", "54000":
			// out_of_memory / program_limit_exceeded при сортировке без индекса
			return fmt.Errorf("%v: %w", err, apperrors.ErrIndexMissing)
		}
	}
	return fmt.Errorf("%v: %w", err, apperrors.ErrStoreUnavailable)
}
