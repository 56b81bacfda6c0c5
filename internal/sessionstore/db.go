package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/db"
	"github.com/in-nis/school-portal/internal/models"
)

// Database keeps sessions in the session_snapshots table.
type Database struct {
	store *db.Store
	ttl   time.Duration
}

func NewDatabase(store *db.Store, ttl time.Duration) *Database {
	return &Database{store: store, ttl: ttl}
}

func (d *Database) Get(ctx context.Context, id string) (auth.AuthSession, error) {
	snap, err := d.store.GetSnapshot(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return auth.AuthSession{}, ErrNotFound
	}
	if err != nil {
		return auth.AuthSession{}, err
	}
	return fromSnapshot(snap)
}

func (d *Database) Put(ctx context.Context, id string, s auth.AuthSession) error {
	snap, err := toSnapshot(id, s, time.Now().Add(d.ttl))
	if err != nil {
		return err
	}
	return d.store.SaveSnapshot(ctx, snap)
}

func (d *Database) Delete(ctx context.Context, id string) error {
	return d.store.DeleteSnapshot(ctx, id)
}

func toSnapshot(id string, s auth.AuthSession, expiresAt time.Time) (models.SessionSnapshot, error) {
	snap := models.SessionSnapshot{
		ID:        id,
		Token:     s.Token,
		Authed:    s.IsAuthenticated,
		ExpiresAt: expiresAt,
	}
	if s.User != nil {
		buf, err := json.Marshal(s.User)
		if err != nil {
			return snap, err
		}
		snap.UserJSON = buf
	}
	return snap, nil
}

func fromSnapshot(snap *models.SessionSnapshot) (auth.AuthSession, error) {
	s := auth.AuthSession{Token: snap.Token, IsAuthenticated: snap.Authed}
	if len(snap.UserJSON) > 0 && string(snap.UserJSON) != "null" {
		var u auth.AuthUser
		if err := json.Unmarshal(snap.UserJSON, &u); err != nil {
			return s, err
		}
		s.User = &u
	}
	return s, nil
}
