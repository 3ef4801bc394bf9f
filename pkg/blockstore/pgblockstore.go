package blockstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/lib/pq"
	. "github.com/weberc2/blockfs/pkg/types"
)

const (
	BlocksTableMissingErr ConstError = "postgres `blocks` table does not exist"
)

// PGBlockStore keeps blocks as rows of the `blocks` table, keyed by volume
// so several volumes can share a database.
type PGBlockStore struct {
	db     *sql.DB
	volume string
}

func NewPGBlockStore(db *sql.DB, volume string) *PGBlockStore {
	return &PGBlockStore{db: db, volume: volume}
}

func OpenPGEnv() (*sql.DB, error) {
	db, err := sql.Open(
		"postgres",
		fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("PG_HOST", "localhost"),
			getEnv("PG_PORT", "5432"),
			getEnv("PG_USER", "postgres"),
			getEnv("PG_PASS", ""),
			getEnv("PG_DB_NAME", "postgres"),
			getEnv("PG_SSL_MODE", "disable"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}

	return db, nil
}

func getEnv(env, def string) string {
	x := os.Getenv(env)
	if x == "" {
		return def
	}
	return x
}

func (store *PGBlockStore) EnsureTable() error {
	if _, err := store.db.Exec(
		"CREATE TABLE IF NOT EXISTS blocks (" +
			"volume VARCHAR(128) NOT NULL, " +
			"block BIGINT NOT NULL, " +
			"data BYTEA NOT NULL, " +
			"PRIMARY KEY (volume, block))",
	); err != nil {
		return fmt.Errorf("creating `blocks` postgres table: %w", err)
	}
	return nil
}

func (store *PGBlockStore) DropTable() error {
	if _, err := store.db.Exec("DROP TABLE IF EXISTS blocks"); err != nil {
		return fmt.Errorf("dropping table `blocks`: %w", err)
	}
	return nil
}

// ClearVolume deletes every block belonging to the store's volume.
func (store *PGBlockStore) ClearVolume() error {
	if _, err := store.db.Exec(
		"DELETE FROM blocks WHERE volume = $1",
		store.volume,
	); err != nil {
		return fmt.Errorf(
			"clearing volume `%s` from `blocks` postgres table: %w",
			store.volume,
			err,
		)
	}
	return nil
}

func (store *PGBlockStore) ResetTable() error {
	if err := store.DropTable(); err != nil {
		return err
	}
	return store.EnsureTable()
}

func (store *PGBlockStore) ReadBlock(block Block, p *[BlockSize]byte) error {
	var data []byte
	if err := store.db.QueryRow(
		"SELECT data FROM blocks WHERE volume = $1 AND block = $2",
		store.volume,
		int64(block),
	).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			*p = [BlockSize]byte{}
			return nil
		}
		const errUndefinedTable = "42P01"
		if err, ok := err.(*pq.Error); ok && err.Code == errUndefinedTable {
			return fmt.Errorf(
				"reading block `%d` of volume `%s` from postgres: %w",
				block,
				store.volume,
				BlocksTableMissingErr,
			)
		}
		return fmt.Errorf(
			"reading block `%d` of volume `%s` from postgres: %w",
			block,
			store.volume,
			err,
		)
	}
	if Byte(len(data)) != BlockSize {
		return fmt.Errorf(
			"reading block `%d` of volume `%s` from postgres: "+
				"found `%d` bytes: %w",
			block,
			store.volume,
			len(data),
			ShortBlockErr,
		)
	}
	copy(p[:], data)
	return nil
}

func (store *PGBlockStore) WriteBlock(block Block, p *[BlockSize]byte) error {
	if _, err := store.db.Exec(
		"INSERT INTO blocks (volume, block, data) VALUES ($1, $2, $3) "+
			"ON CONFLICT (volume, block) DO UPDATE SET data = EXCLUDED.data",
		store.volume,
		int64(block),
		p[:],
	); err != nil {
		return fmt.Errorf(
			"writing block `%d` of volume `%s` to postgres: %w",
			block,
			store.volume,
			err,
		)
	}
	return nil
}

var _ BlockStore = (*PGBlockStore)(nil)
