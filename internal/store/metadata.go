package store

import (
	"database/sql"
	"fmt"
)

// FileMetadataStore is the global file-metadata key/value table.
type FileMetadataStore struct {
	db *sql.DB
}

func NewFileMetadataStore(db *sql.DB) *FileMetadataStore {
	return &FileMetadataStore{db: db}
}

// Put upserts each key by deleting any existing row first.
func (s *FileMetadataStore) Put(metadata map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin metadata put: %w", err)
	}
	defer tx.Rollback()

	for key, value := range metadata {
		if _, err := tx.Exec(`DELETE FROM file_metadata WHERE file_key = ?`, key); err != nil {
			return fmt.Errorf("delete metadata: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO file_metadata (file_key, metadata) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("insert metadata: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metadata put: %w", err)
	}
	return nil
}

// Get returns {fileKey: value}, or an empty map when the key is unknown.
func (s *FileMetadataStore) Get(fileKey string) (map[string]string, error) {
	var value string
	err := s.db.QueryRow(`SELECT metadata FROM file_metadata WHERE file_key = ?`, fileKey).Scan(&value)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return map[string]string{fileKey: value}, nil
}

// UserFileMetadataStore is the per-user file-metadata key/value table.
type UserFileMetadataStore struct {
	db *sql.DB
}

func NewUserFileMetadataStore(db *sql.DB) *UserFileMetadataStore {
	return &UserFileMetadataStore{db: db}
}

func (s *UserFileMetadataStore) Put(userID int64, metadata map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin user metadata put: %w", err)
	}
	defer tx.Rollback()

	for key, value := range metadata {
		if _, err := tx.Exec(`DELETE FROM file_metadata_of_user WHERE user_id = ? AND file_key = ?`, userID, key); err != nil {
			return fmt.Errorf("delete user metadata: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO file_metadata_of_user (user_id, file_key, metadata) VALUES (?, ?, ?)`, userID, key, value); err != nil {
			return fmt.Errorf("insert user metadata: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user metadata put: %w", err)
	}
	return nil
}

func (s *UserFileMetadataStore) Get(userID int64) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT file_key, metadata FROM file_metadata_of_user WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("get user metadata: %w", err)
	}
	defer rows.Close()

	metadata := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan user metadata: %w", err)
		}
		metadata[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user metadata: %w", err)
	}
	return metadata, nil
}
